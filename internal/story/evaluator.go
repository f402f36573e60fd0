package story

import (
	"regexp"
	"strings"

	"careerline/internal/domain"
)

const (
	baseScore  = 5.0
	minScore   = 1.0
	maxScore   = 9.5
	maxAdvice  = 3
	factorSpec = "specificity"
	factorPpl  = "named_people"
	factorCF   = "counterfactual"
	factorMet  = "metric"
)

// Factor is one explainable scoring component.
type Factor struct {
	Name   string  `json:"name"`
	Points float64 `json:"points"`
	Met    bool    `json:"met"`
}

// Evaluation scores a generated story.
type Evaluation struct {
	Score        float64  `json:"score"`
	Suggestions  []string `json:"suggestions"`
	CoachComment string   `json:"coachComment"`
	Factors      []Factor `json:"factors"`
}

var (
	specificityPattern = regexp.MustCompile(`(?i)(\d+(\.\d+)?\s*%|[$€£]\s*\d|\b\d+(\.\d+)?\s*(k|m)?\s*(seconds?|minutes?|mins?|hours?|hrs?|days?|weeks?|months?|quarters?|years?|people|persons?|engineers?|developers?|teams?|customers?|users?|members?)\b)`)
	digitPattern       = regexp.MustCompile(`\d`)
)

var advice = map[string]string{
	factorSpec: "Add a concrete number to one of the sections: a percentage, a dollar amount, or how many hours, people or teams were involved.",
	factorPpl:  "Name the people you worked with or convinced; stories with real names are more believable.",
	factorCF:   "Say what would have happened if you had not done this work; the stakes make the result matter.",
	factorMet:  "Quantify the outcome with a metric you can defend in an interview.",
}

// Evaluate scores sections and extracted context deterministically.
func Evaluate(sections map[string]domain.StorySection, c ExtractedContext) Evaluation {
	specific := false
	for _, sec := range sections {
		if specificityPattern.MatchString(sec.Summary) {
			specific = true
			break
		}
	}
	factors := []Factor{
		{Name: factorSpec, Points: 1.0, Met: specific},
		{Name: factorPpl, Points: 0.5, Met: len(c.NamedPeople) > 0},
		{Name: factorCF, Points: 1.0, Met: strings.TrimSpace(c.Counterfactual) != ""},
		{Name: factorMet, Points: 0.5, Met: digitPattern.MatchString(c.Metric)},
	}
	score := baseScore
	suggestions := []string{}
	for _, f := range factors {
		if f.Met {
			score += f.Points
			continue
		}
		if len(suggestions) < maxAdvice {
			suggestions = append(suggestions, advice[f.Name])
		}
	}
	score = clamp(score, minScore, maxScore)
	return Evaluation{
		Score:        score,
		Suggestions:  suggestions,
		CoachComment: coachComment(score),
		Factors:      factors,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func coachComment(score float64) string {
	switch {
	case score >= 8:
		return "Excellent. This story has stakes, specifics and people; it is ready for an interview."
	case score >= 7:
		return "Good story. One more concrete detail would make it memorable."
	case score >= 6:
		return "Adequate, but it reads like a status update. Show what was at stake."
	default:
		return "This needs drama: what was about to go wrong, who was involved, and what number moved?"
	}
}
