package resultcache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/genealabs/phpmd-lsp/internal/resultcache"
	"github.com/genealabs/phpmd-lsp/models"
)

var _ = Describe("Cache", func() {
	var cache *resultcache.Cache

	diagnostics := []models.Diagnostic{
		{
			Range:    models.Range{Start: models.Position{Line: 2}, End: models.Position{Line: 2, Character: 40}},
			Severity: models.SeverityWarning,
			Rule:     "CyclomaticComplexity",
			Message:  "The method foo() has a Cyclomatic Complexity of 14.",
		},
	}

	BeforeEach(func() {
		cache = resultcache.NewCache()
	})

	Describe("Lookup", func() {
		It("misses when no entry exists", func() {
			lookup := cache.Lookup("file:///a.php", "abc", "")
			Expect(lookup.Outcome).To(Equal(resultcache.OutcomeMiss))
			Expect(lookup.ResultID).To(BeEmpty())
		})

		It("hits when the checksum matches and no previous result id is given", func() {
			resultID := cache.Store("file:///a.php", diagnostics, "abc")

			lookup := cache.Lookup("file:///a.php", "abc", "")
			Expect(lookup.Outcome).To(Equal(resultcache.OutcomeHit))
			Expect(lookup.ResultID).To(Equal(resultID))
			Expect(lookup.Diagnostics).To(Equal(diagnostics))
		})

		It("reports unchanged when the caller already holds the current result", func() {
			resultID := cache.Store("file:///a.php", diagnostics, "abc")

			lookup := cache.Lookup("file:///a.php", "abc", resultID)
			Expect(lookup.Outcome).To(Equal(resultcache.OutcomeUnchanged))
			Expect(lookup.ResultID).To(Equal(resultID))
			Expect(lookup.Diagnostics).To(BeEmpty())
		})

		It("hits when the previous result id is stale", func() {
			cache.Store("file:///a.php", diagnostics, "abc")
			resultID := cache.Store("file:///a.php", diagnostics, "abc")

			lookup := cache.Lookup("file:///a.php", "abc", "some-older-result")
			Expect(lookup.Outcome).To(Equal(resultcache.OutcomeHit))
			Expect(lookup.ResultID).To(Equal(resultID))
		})

		It("misses and evicts when the checksum differs", func() {
			cache.Store("file:///a.php", diagnostics, "abc")

			lookup := cache.Lookup("file:///a.php", "def", "")
			Expect(lookup.Outcome).To(Equal(resultcache.OutcomeMiss))
			Expect(cache.Len()).To(BeZero(), "stale entries are evicted during lookup")
		})

		It("never reports unchanged across a content change", func() {
			resultID := cache.Store("file:///a.php", diagnostics, "abc")

			lookup := cache.Lookup("file:///a.php", "def", resultID)
			Expect(lookup.Outcome).To(Equal(resultcache.OutcomeMiss))
		})
	})

	Describe("Store", func() {
		It("generates a fresh result id on every store", func() {
			first := cache.Store("file:///a.php", diagnostics, "abc")
			second := cache.Store("file:///a.php", diagnostics, "abc")
			Expect(first).NotTo(BeEmpty())
			Expect(second).NotTo(Equal(first))
		})
	})

	Describe("Invalidate", func() {
		It("drops a single document", func() {
			cache.Store("file:///a.php", diagnostics, "abc")
			cache.Store("file:///b.php", diagnostics, "def")

			cache.Invalidate("file:///a.php")

			Expect(cache.Lookup("file:///a.php", "abc", "").Outcome).To(Equal(resultcache.OutcomeMiss))
			Expect(cache.Lookup("file:///b.php", "def", "").Outcome).To(Equal(resultcache.OutcomeHit))
		})

		It("drops everything on InvalidateAll", func() {
			cache.Store("file:///a.php", diagnostics, "abc")
			cache.Store("file:///b.php", diagnostics, "def")

			cache.InvalidateAll()

			Expect(cache.Len()).To(BeZero())
		})
	})
})
