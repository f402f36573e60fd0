package story

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	// DefaultArchetype is used when the text carries no archetype cues.
	DefaultArchetype  = Architect
	weakConfidence    = 0.3
	maxAlternatives   = 3
	priorArchetypeKey = "archetype"
)

// Candidate is one scored archetype.
type Candidate struct {
	Archetype  Archetype `json:"archetype"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning,omitempty"`
}

// Signals are heuristic features of the entry text reused when asking
// interview questions.
type Signals struct {
	RoleLanguage          bool     `json:"role_language"`
	DiscoveryLanguage     bool     `json:"discovery_language"`
	OutcomeLanguage       bool     `json:"outcome_language"`
	CrisisLanguage        bool     `json:"crisis_language"`
	CollaborationLanguage bool     `json:"collaboration_language"`
	HasMetrics            bool     `json:"has_metrics"`
	Cues                  []string `json:"cues,omitempty"`
}

// Describe renders the signals as a short bullet list for prompts.
func (s Signals) Describe() string {
	var b strings.Builder
	flag := func(on bool, label string) {
		if on {
			b.WriteString("- " + label + "\n")
		}
	}
	flag(s.RoleLanguage, "author describes their own role/ownership")
	flag(s.DiscoveryLanguage, "discovery or investigation language")
	flag(s.OutcomeLanguage, "outcome language")
	flag(s.CrisisLanguage, "urgency or incident language")
	flag(s.CollaborationLanguage, "cross-team collaboration language")
	flag(s.HasMetrics, "already contains numbers")
	if b.Len() == 0 {
		return "- no strong signals\n"
	}
	return b.String()
}

// Detection is the result of archetype classification.
type Detection struct {
	Primary      Candidate   `json:"primary"`
	Alternatives []Candidate `json:"alternatives"`
	Signals      Signals     `json:"signals"`
}

var archetypeCues = map[Archetype][]string{
	Firefighter: {"outage", "incident", "urgent", "on-call", "hotfix", "production down", "pager", "sev1", "sev-1", "emergency", "rollback", "firefight"},
	Architect:   {"designed", "architecture", "built", "platform", "framework", "system", "scalable", "migration", "refactor", "infrastructure", "pipeline"},
	Diplomat:    {"aligned", "stakeholder", "negotiated", "consensus", "cross-team", "disagreement", "conflict", "convinced", "mediated", "partnered"},
	Multiplier:  {"mentored", "onboarded", "taught", "coached", "documentation", "enabled the team", "workshop", "pairing", "unblocked", "training"},
	Detective:   {"root cause", "investigated", "debugged", "traced", "discovered", "mystery", "intermittent", "profiled", "bisect", "dug into"},
	Pioneer:     {"first", "prototype", "proof of concept", "experiment", "new product", "explored", "introduced", "launched", "spike", "greenfield"},
	Turnaround:  {"behind schedule", "failing", "rescued", "recovered", "turned around", "struggling", "at risk", "salvaged", "revived", "took over"},
	Preventer:   {"prevented", "risk", "audit", "security", "compliance", "caught", "before it", "proactive", "guardrail", "avoided"},
}

var (
	roleCues          = []string{"i led", "i owned", "i drove", "i built", "i designed", "i decided", "my role", "i proposed", "i took"}
	discoveryCues     = []string{"found", "discovered", "noticed", "realized", "root cause", "investigated", "turned out"}
	outcomeCues       = []string{"reduced", "increased", "improved", "saved", "cut", "shipped", "delivered", "launched", "resolved"}
	crisisCues        = []string{"outage", "incident", "urgent", "escalation", "deadline", "down", "broken"}
	collaborationCues = []string{"team", "with ", "stakeholder", "partner", "together", "cross-functional"}
	metricPattern     = regexp.MustCompile(`\d`)
)

// DetectArchetype classifies entry text into one of the fixed archetypes.
// prior may carry a previously detected archetype, which counts as one vote.
// It never fails; weak input degrades to DefaultArchetype.
func DetectArchetype(text string, prior map[string]any) Detection {
	lower := strings.ToLower(text)
	signals := detectSignals(lower)

	type scored struct {
		archetype Archetype
		hits      []string
	}
	var results []scored
	total := 0
	for _, a := range Archetypes {
		var hits []string
		for _, cue := range archetypeCues[a] {
			if strings.Contains(lower, cue) {
				hits = append(hits, cue)
			}
		}
		total += len(hits)
		results = append(results, scored{archetype: a, hits: hits})
	}
	if p, ok := priorArchetype(prior); ok {
		for i := range results {
			if results[i].archetype == p {
				results[i].hits = append(results[i].hits, "previous detection")
				total++
			}
		}
	}
	if total == 0 {
		return Detection{
			Primary: Candidate{
				Archetype:  DefaultArchetype,
				Confidence: weakConfidence,
				Reasoning:  "no strong archetype cues found; defaulting to " + string(DefaultArchetype),
			},
			Alternatives: []Candidate{},
			Signals:      signals,
		}
	}
	// Stable on Archetypes order for equal hit counts.
	sort.SliceStable(results, func(i, j int) bool { return len(results[i].hits) > len(results[j].hits) })

	top := results[0]
	primary := Candidate{
		Archetype:  top.archetype,
		Confidence: confidence(len(top.hits), total),
		Reasoning:  fmt.Sprintf("matched %d %s cue(s): %s", len(top.hits), top.archetype.Label(), strings.Join(top.hits, ", ")),
	}
	alts := []Candidate{}
	for _, r := range results[1:] {
		if len(r.hits) == 0 || len(alts) == maxAlternatives {
			break
		}
		alts = append(alts, Candidate{Archetype: r.archetype, Confidence: confidence(len(r.hits), total)})
	}
	return Detection{Primary: primary, Alternatives: alts, Signals: signals}
}

func confidence(hits, total int) float64 {
	c := float64(hits) / float64(total)
	// a lone cue is not strong evidence even if it is the only one
	if hits < 2 && c > 0.6 {
		c = 0.6
	}
	if c < 0.1 {
		c = 0.1
	}
	return float64(int(c*100+0.5)) / 100
}

func priorArchetype(prior map[string]any) (Archetype, bool) {
	if prior == nil {
		return "", false
	}
	v, ok := prior[priorArchetypeKey].(string)
	if !ok {
		return "", false
	}
	a, err := ParseArchetype(v)
	if err != nil {
		return "", false
	}
	return a, true
}

func detectSignals(lower string) Signals {
	var s Signals
	match := func(cues []string) bool {
		found := false
		for _, c := range cues {
			if strings.Contains(lower, c) {
				s.Cues = append(s.Cues, strings.TrimSpace(c))
				found = true
			}
		}
		return found
	}
	s.RoleLanguage = match(roleCues)
	s.DiscoveryLanguage = match(discoveryCues)
	s.OutcomeLanguage = match(outcomeCues)
	s.CrisisLanguage = match(crisisCues)
	s.CollaborationLanguage = match(collaborationCues)
	s.HasMetrics = metricPattern.MatchString(lower)
	return s
}
