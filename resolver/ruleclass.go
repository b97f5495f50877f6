package resolver

// RuleClass is the heuristic category deciding how a violation's raw
// line span collapses into a display range.
type RuleClass = string

const (
	// RuleClassProperty rules name a property in their description; the
	// true declaration line is found by scanning the document.
	RuleClassProperty RuleClass = "property"
	// RuleClassClass rules are structural metrics scoped to a whole
	// class and collapse to the class declaration line.
	RuleClassClass RuleClass = "class"
	// RuleClassMethod rules target a method body and collapse to the
	// signature when the reported span is long.
	RuleClassMethod RuleClass = "method"
	// RuleClassSingleLine rules always describe a single statement.
	RuleClassSingleLine RuleClass = "single-line"
	// RuleClassDefault applies to every unmapped rule.
	RuleClassDefault RuleClass = "default"
)

// ruleClasses maps PHPMD rule names to their range-resolution class.
// Unmapped rules fall through to RuleClassDefault.
var ruleClasses = map[string]RuleClass{
	// Property-targeted rules
	"CamelCasePropertyName": RuleClassProperty,
	"UnusedPrivateField":    RuleClassProperty,

	// Class-scoped structural and size metrics
	"CamelCaseClassName":       RuleClassClass,
	"CouplingBetweenObjects":   RuleClassClass,
	"DepthOfInheritance":       RuleClassClass,
	"ExcessiveClassComplexity": RuleClassClass,
	"ExcessiveClassLength":     RuleClassClass,
	"ExcessivePublicCount":     RuleClassClass,
	"NumberOfChildren":         RuleClassClass,
	"TooManyFields":            RuleClassClass,
	"TooManyMethods":           RuleClassClass,
	"TooManyPublicMethods":     RuleClassClass,

	// Method-scoped complexity and size metrics
	"CyclomaticComplexity":   RuleClassMethod,
	"ExcessiveMethodLength":  RuleClassMethod,
	"ExcessiveParameterList": RuleClassMethod,
	"NPathComplexity":        RuleClassMethod,
	"UnusedFormalParameter":  RuleClassMethod,

	// Rules that always point at a single statement
	"ElseExpression":  RuleClassSingleLine,
	"EvalExpression":  RuleClassSingleLine,
	"ExitExpression":  RuleClassSingleLine,
	"GotoStatement":   RuleClassSingleLine,
	"LongVariable":    RuleClassSingleLine,
	"ShortVariable":   RuleClassSingleLine,
	"ShortMethodName": RuleClassSingleLine,
}

// Classify returns the range-resolution class for a PHPMD rule name.
func Classify(rule string) RuleClass {
	if class, ok := ruleClasses[rule]; ok {
		return class
	}
	return RuleClassDefault
}
