package story

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Phase is a stage of the D-I-G interview.
type Phase string

const (
	PhaseDig    Phase = "dig"
	PhaseImpact Phase = "impact"
	PhaseGrowth Phase = "growth"
)

// Phases lists the interview phases in order.
var Phases = []Phase{PhaseDig, PhaseImpact, PhaseGrowth}

// WizardAnswer is a caller-supplied answer to one interview question.
type WizardAnswer struct {
	Selected []string `json:"selected"`
	FreeText string   `json:"freeText,omitempty"`
}

// Text joins the selected options and free text.
func (a WizardAnswer) Text() string {
	var parts []string
	for _, s := range a.Selected {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if ft := strings.TrimSpace(a.FreeText); ft != "" {
		parts = append(parts, ft)
	}
	return strings.Join(parts, ". ")
}

// DecodeAnswers parses untrusted answer JSON. Anything malformed is dropped
// rather than rejected: non-object answers, non-array selections, non-string
// options or free text.
func DecodeAnswers(raw json.RawMessage) map[string]WizardAnswer {
	out := map[string]WizardAnswer{}
	var byID map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byID); err != nil {
		return out
	}
	for id, v := range byID {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(v, &fields); err != nil {
			continue
		}
		var a WizardAnswer
		var items []any
		if err := json.Unmarshal(fields["selected"], &items); err == nil {
			for _, it := range items {
				if s, ok := it.(string); ok {
					a.Selected = append(a.Selected, s)
				}
			}
		}
		var ft string
		if err := json.Unmarshal(fields["freeText"], &ft); err == nil {
			a.FreeText = ft
		}
		out[id] = a
	}
	return out
}

// AnswersFromAny converts loosely typed answers (decoded YAML or JSON) into
// WizardAnswers with the same leniency as DecodeAnswers.
func AnswersFromAny(v map[string]any) map[string]WizardAnswer {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]WizardAnswer{}
	}
	return DecodeAnswers(raw)
}

// ExtractedContext is what the interview answers tell us about the story.
type ExtractedContext struct {
	RealStory      string   `json:"realStory,omitempty"`
	KeyDecision    string   `json:"keyDecision,omitempty"`
	NamedPeople    []string `json:"namedPeople,omitempty"`
	Obstacle       string   `json:"obstacle,omitempty"`
	Counterfactual string   `json:"counterfactual,omitempty"`
	Metric         string   `json:"metric,omitempty"`
	Learning       string   `json:"learning,omitempty"`
}

// Empty reports whether no answer carried content.
func (c ExtractedContext) Empty() bool {
	return c.RealStory == "" && c.KeyDecision == "" && c.Obstacle == "" &&
		c.Counterfactual == "" && c.Metric == "" && c.Learning == "" && len(c.NamedPeople) == 0
}

type phaseAnswer struct {
	id      string
	phase   Phase
	ordinal int
	slot    int
	text    string
}

// routeAnswers orders answers by phase, then ordinal, then id, and assigns
// each its slot. Answers whose id names no phase come last with slot 0.
func routeAnswers(answers map[string]WizardAnswer) []phaseAnswer {
	byPhase := map[Phase][]phaseAnswer{}
	var unphased []phaseAnswer
	for id, a := range answers {
		p, ok := phaseOf(id)
		row := phaseAnswer{id: id, phase: p, ordinal: ordinalOf(id), text: a.Text()}
		if !ok {
			unphased = append(unphased, row)
			continue
		}
		byPhase[p] = append(byPhase[p], row)
	}
	var out []phaseAnswer
	for _, p := range Phases {
		list := byPhase[p]
		sort.Slice(list, func(i, j int) bool {
			if list[i].ordinal != list[j].ordinal {
				return list[i].ordinal < list[j].ordinal
			}
			return list[i].id < list[j].id
		})
		for i := range list {
			list[i].slot = list[i].position(i)
		}
		out = append(out, list...)
	}
	sort.Slice(unphased, func(i, j int) bool { return unphased[i].id < unphased[j].id })
	return append(out, unphased...)
}

// ExtractContext maps answers to context fields by phase and ordinal.
func ExtractContext(answers map[string]WizardAnswer) ExtractedContext {
	var (
		ctx       ExtractedContext
		learnings []string
	)
	for _, a := range routeAnswers(answers) {
		if a.text == "" {
			continue
		}
		switch a.phase {
		case PhaseDig:
			switch a.slot {
			case 1:
				setOnce(&ctx.RealStory, a.text)
			case 2:
				if setOnce(&ctx.KeyDecision, a.text) {
					ctx.NamedPeople = ExtractNamedPeople(a.text)
				}
			case 3:
				setOnce(&ctx.Obstacle, a.text)
			}
		case PhaseImpact:
			switch a.slot {
			case 1:
				setOnce(&ctx.Counterfactual, a.text)
			case 2:
				setOnce(&ctx.Metric, a.text)
			}
		case PhaseGrowth:
			learnings = append(learnings, a.text)
		}
	}
	ctx.Learning = strings.Join(learnings, " ")
	return ctx
}

// position is the answer's 1-based slot in its phase: the id's trailing
// ordinal when present, otherwise its rank among the phase's answers.
func (a phaseAnswer) position(rank int) int {
	if a.ordinal > 0 {
		return a.ordinal
	}
	return rank + 1
}

func setOnce(field *string, v string) bool {
	if *field != "" {
		return false
	}
	*field = v
	return true
}

// phaseOf matches the phase name anywhere in the id so generated ids such as
// "q_dig_1" or "digQ2" still route.
func phaseOf(id string) (Phase, bool) {
	lower := strings.ToLower(id)
	for _, p := range Phases {
		if strings.Contains(lower, string(p)) {
			return p, true
		}
	}
	return "", false
}

// ordinalOf returns the id's trailing number, or 0 when it has none.
func ordinalOf(id string) int {
	i := len(id)
	for i > 0 && id[i-1] >= '0' && id[i-1] <= '9' {
		i--
	}
	if i == len(id) {
		return 0
	}
	n, err := strconv.Atoi(id[i:])
	if err != nil {
		return 0
	}
	return n
}

var nameStoplist = map[string]bool{
	"The": true, "A": true, "An": true, "This": true, "That": true, "These": true, "Those": true,
	"When": true, "Then": true, "After": true, "Before": true, "While": true, "During": true,
	"Once": true, "If": true, "But": true, "And": true, "Or": true, "So": true, "Because": true,
	"We": true, "I": true, "He": true, "She": true, "They": true, "It": true, "You": true,
	"Our": true, "My": true, "His": true, "Her": true, "Their": true, "Its": true, "Us": true,
	"Me": true, "Them": true, "Everyone": true, "Nobody": true, "Someone": true,
	"Worked": true, "Decided": true, "Asked": true, "Told": true, "Helped": true, "Built": true,
	"Made": true, "Started": true, "Finished": true, "Led": true, "Found": true, "Fixed": true,
	"Shipped": true, "Convinced": true, "Proposed": true, "Agreed": true, "Chose": true,
	"Realized": true, "Noticed": true, "Talked": true, "Met": true, "Called": true,
	"Monday": true, "Tuesday": true, "Wednesday": true, "Thursday": true, "Friday": true,
	"Saturday": true, "Sunday": true, "Yes": true, "No": true, "Also": true, "Finally": true,
}

// ExtractNamedPeople returns capitalized name-like tokens that are not common
// sentence starters, pronouns or past-tense verbs. Consecutive capitalized
// tokens form one name. Results are deduplicated, case-sensitive, in order.
func ExtractNamedPeople(text string) []string {
	var (
		out     []string
		seen    = map[string]bool{}
		current []string
	)
	flush := func() {
		if len(current) > 0 {
			name := strings.Join(current, " ")
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
		current = current[:0]
	}
	for _, raw := range strings.Fields(text) {
		word := strings.TrimRightFunc(strings.TrimLeftFunc(raw, notLetter), notLetter)
		word = strings.TrimSuffix(word, "'s")
		if !isCapitalized(word) || nameStoplist[word] {
			flush()
			continue
		}
		current = append(current, word)
		// punctuation after the token ends the name
		if last, _ := utf8.DecodeLastRuneInString(raw); !unicode.IsLetter(last) {
			flush()
		}
	}
	flush()
	if out == nil {
		return []string{}
	}
	return out
}

func notLetter(r rune) bool { return !unicode.IsLetter(r) }

func isCapitalized(word string) bool {
	if utf8.RuneCountInString(word) < 2 {
		return false
	}
	first, _ := utf8.DecodeRuneInString(word)
	if !unicode.IsUpper(first) {
		return false
	}
	for _, r := range word {
		if !unicode.IsLetter(r) && r != '-' && r != '\'' {
			return false
		}
	}
	// all-caps tokens are acronyms, not names
	return strings.ToUpper(word) != word
}
