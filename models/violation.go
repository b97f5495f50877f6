package models

// Violation is a single raw finding reported by PHPMD for one line range.
// Lines are 1-based and inclusive, exactly as they appear in the JSON
// report. Violations are ephemeral: they exist only between parsing the
// analyzer output and conversion into Diagnostics.
type Violation struct {
	BeginLine       int    `json:"beginLine"`
	EndLine         int    `json:"endLine"`
	Package         string `json:"package,omitempty"`
	Class           string `json:"class,omitempty"`
	Method          string `json:"method,omitempty"`
	Function        string `json:"function,omitempty"`
	Description     string `json:"description"`
	Rule            string `json:"rule"`
	RuleSet         string `json:"ruleSet"`
	Priority        int    `json:"priority"`
	ExternalInfoURL string `json:"externalInfoUrl,omitempty"`
}

// Context returns the most specific code context the analyzer reported
// for this violation, or "" when none was reported.
func (v Violation) Context() string {
	switch {
	case v.Method != "":
		return v.Method
	case v.Function != "":
		return v.Function
	case v.Class != "":
		return v.Class
	}
	return ""
}
