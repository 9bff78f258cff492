package scan

import "strings"

// SymptomRule puts a free-text symptom description in Category when it
// contains any Keyword. Keywords are lower case.
type SymptomRule struct {
	Category string
	Keywords []string
}

const OtherSymptoms = "Other"

// DefaultSymptomRules in priority order, English and French keywords.
var DefaultSymptomRules = []SymptomRule{
	{Category: "Blurred Vision", Keywords: []string{"blur", "flou"}},
	{Category: "Spots", Keywords: []string{"spot", "tache"}},
	{Category: "Pain", Keywords: []string{"pain", "douleur"}},
	{Category: "Diabetes", Keywords: []string{"diabet", "diabète"}},
	{Category: "Black Dots", Keywords: []string{"black dot", "point noir", "points noirs"}},
}

// ClassifySymptom returns the category of the first matching rule, or
// OtherSymptoms.
func ClassifySymptom(rules []SymptomRule, text string) string {
	lower := strings.ToLower(text)
	for _, r := range rules {
		for _, k := range r.Keywords {
			if strings.Contains(lower, k) {
				return r.Category
			}
		}
	}
	return OtherSymptoms
}
