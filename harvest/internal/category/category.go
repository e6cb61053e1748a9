// Package category maps artifact file names to archive categories using an
// ordered keyword rule list. Classification is total: names matching no rule
// land in the fallback category.
package category

import "strings"

// Fallback is the category assigned when no rule matches.
const Fallback = "other_reports"

// Rule associates a category with the keywords that select it. Rule order is
// significant: the first matching rule wins, so ambiguous names resolve
// deterministically by position, not by content.
type Rule struct {
	Name     string   `yaml:"name" json:"name"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// Rules is an ordered, immutable rule set.
type Rules struct {
	rules    []Rule
	fallback string
}

// New builds a Rules set. An empty fallback uses the package default.
// Keywords are lowered once at construction so Categorize stays
// allocation-free on the hot path.
func New(rules []Rule, fallback string) Rules {
	if fallback == "" {
		fallback = Fallback
	}
	owned := make([]Rule, len(rules))
	for i, r := range rules {
		kw := make([]string, len(r.Keywords))
		for j, k := range r.Keywords {
			kw[j] = strings.ToLower(k)
		}
		owned[i] = Rule{Name: r.Name, Keywords: kw}
	}
	return Rules{rules: owned, fallback: fallback}
}

// Default returns the report categories of the NYC InfoHub portal, most
// complete variant.
func Default() Rules {
	return New([]Rule{
		{Name: "graduation", Keywords: []string{"graduation", "cohort"}},
		{Name: "attendance", Keywords: []string{"attendance", "chronic", "absentee"}},
		{Name: "demographics", Keywords: []string{"demographics", "snapshot"}},
		{Name: "test_results", Keywords: []string{"test", "results", "regents", "ela", "english language arts", "math", "mathematics"}},
	}, Fallback)
}

// Categorize returns the category for a file name: the first rule with any
// case-insensitive substring match, else the fallback.
func (r Rules) Categorize(fileName string) string {
	lower := strings.ToLower(fileName)
	for _, rule := range r.rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(lower, kw) {
				return rule.Name
			}
		}
	}
	return r.fallback
}

// Categories lists every category this rule set can produce, fallback last.
func (r Rules) Categories() []string {
	out := make([]string, 0, len(r.rules)+1)
	for _, rule := range r.rules {
		out = append(out, rule.Name)
	}
	return append(out, r.fallback)
}

// Fallback returns the fallback category name.
func (r Rules) Fallback() string {
	return r.fallback
}
