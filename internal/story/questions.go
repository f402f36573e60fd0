package story

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"careerline/internal/provider"
)

// Mode selects the size of the interview.
type Mode string

const (
	ModeFull  Mode = "full"
	ModeQuick Mode = "quick"
)

var modeDistribution = map[Mode]map[Phase]int{
	ModeFull:  {PhaseDig: 3, PhaseImpact: 2, PhaseGrowth: 1},
	ModeQuick: {PhaseDig: 1, PhaseImpact: 1, PhaseGrowth: 1},
}

// ParseMode returns ModeFull for an empty value.
func ParseMode(v string) (Mode, error) {
	if v == "" {
		return ModeFull, nil
	}
	m := Mode(strings.ToLower(strings.TrimSpace(v)))
	if _, ok := modeDistribution[m]; !ok {
		return "", fmt.Errorf("invalid question mode %q", v)
	}
	return m, nil
}

// Count is the number of questions asked in mode m.
func (m Mode) Count() int {
	n := 0
	for _, c := range modeDistribution[m] {
		n += c
	}
	return n
}

// Origin records whether output came from the provider or the local fallback.
type Origin string

const (
	OriginProvider Origin = "provider"
	OriginFallback Origin = "fallback"
)

// WizardQuestion is one interview question.
type WizardQuestion struct {
	ID            string   `json:"id"`
	Phase         Phase    `json:"phase"`
	Question      string   `json:"question"`
	Hint          string   `json:"hint,omitempty"`
	Options       []string `json:"options,omitempty"`
	AllowFreeText bool     `json:"allowFreeText"`
}

// QuestionID namespaces a question by archetype, phase and 1-based ordinal.
func QuestionID(a Archetype, p Phase, ordinal int) string {
	return fmt.Sprintf("%s-%s-%d", a, p, ordinal)
}

// QuestionInput is what the generator conditions on.
type QuestionInput struct {
	Archetype Archetype
	EntryText string
	Signals   Signals
	Known     KnownContext
	Mode      Mode
}

// QuestionGenerator produces the interview for an entry.
type QuestionGenerator struct {
	Provider provider.Provider
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Generate returns exactly in.Mode.Count() questions. It asks the provider
// when one is configured and falls back to the static bank otherwise.
func (g QuestionGenerator) Generate(ctx context.Context, in QuestionInput) ([]WizardQuestion, Origin) {
	if in.Mode == "" {
		in.Mode = ModeFull
	}
	if !in.Archetype.Valid() {
		in.Archetype = DefaultArchetype
	}
	if g.Provider != nil {
		qs, err := g.dynamic(ctx, in)
		if err == nil {
			return normalizeQuestions(qs, in.Archetype, in.Mode), OriginProvider
		}
		logger(g.Logger).Warn("question generation fell back to static bank",
			zap.String("archetype", string(in.Archetype)), zap.Error(err))
	}
	return StaticQuestions(in.Archetype, in.Mode), OriginFallback
}

// StaticQuestions returns the canonical bank questions for a mode.
func StaticQuestions(a Archetype, m Mode) []WizardQuestion {
	return normalizeQuestions(nil, a, m)
}

type questionPayload struct {
	Questions []struct {
		Phase    string   `json:"phase"`
		Question string   `json:"question"`
		Hint     string   `json:"hint"`
		Options  []string `json:"options"`
	} `json:"questions"`
}

func (g QuestionGenerator) dynamic(ctx context.Context, in QuestionInput) ([]WizardQuestion, error) {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	text, err := g.Provider.Complete(ctx, provider.Request{
		Operation: "questions",
		System:    questionSystemPrompt,
		Prompt:    questionPrompt(in),
		JSON:      true,
		MaxTokens: 2048,
		Validate: func(text string) error {
			_, err := parseQuestions(text, in.Mode)
			return err
		},
	})
	if err != nil {
		return nil, err
	}
	return parseQuestions(text, in.Mode)
}

// parseQuestions decodes a provider response and checks it covers the mode's
// per-phase quota.
func parseQuestions(text string, mode Mode) ([]WizardQuestion, error) {
	var payload questionPayload
	if err := provider.DecodeJSON(text, &payload); err != nil {
		return nil, err
	}
	want := modeDistribution[mode]
	got := map[Phase]int{}
	var out []WizardQuestion
	for _, q := range payload.Questions {
		p := Phase(strings.ToLower(strings.TrimSpace(q.Phase)))
		question := strings.TrimSpace(q.Question)
		if _, ok := want[p]; !ok || question == "" {
			continue
		}
		got[p]++
		out = append(out, WizardQuestion{Phase: p, Question: question, Hint: strings.TrimSpace(q.Hint), Options: cleanOptions(q.Options)})
	}
	for p, n := range want {
		if got[p] < n {
			return nil, fmt.Errorf("provider returned %d %s questions, need %d", got[p], p, n)
		}
	}
	if len(out) < mode.Count() {
		return nil, errors.New("provider returned too few questions")
	}
	return out, nil
}

// normalizeQuestions keeps the mode's per-phase quota from qs in order, pads
// any shortfall from the bank and assigns canonical ids.
func normalizeQuestions(qs []WizardQuestion, a Archetype, m Mode) []WizardQuestion {
	want := modeDistribution[m]
	bank := questionBank[a]
	out := make([]WizardQuestion, 0, m.Count())
	for _, p := range Phases {
		n := want[p]
		var picked []WizardQuestion
		for _, q := range qs {
			if q.Phase == p && len(picked) < n {
				picked = append(picked, q)
			}
		}
		for _, q := range bank {
			if len(picked) >= n {
				break
			}
			if q.Phase == p && !containsQuestion(picked, q.Question) {
				picked = append(picked, q)
			}
		}
		for i, q := range picked {
			q.ID = QuestionID(a, p, i+1)
			q.AllowFreeText = true
			out = append(out, q)
		}
	}
	return out
}

func containsQuestion(qs []WizardQuestion, text string) bool {
	for _, q := range qs {
		if q.Question == text {
			return true
		}
	}
	return false
}

func cleanOptions(opts []string) []string {
	var out []string
	for _, o := range opts {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) > 6 {
		out = out[:6]
	}
	return out
}

const questionSystemPrompt = `You are a career coach interviewing an engineer about one piece of work.
You follow the D-I-G protocol: Dig (find the real story behind the summary), Impact (quantify the stakes), Growth (extract the learning).
Never ask about facts that are already known from their tool activity.
Respond ONLY with a JSON object: {"questions":[{"phase":"dig|impact|growth","question":"...","hint":"...","options":["..."]}]}`

func questionPrompt(in QuestionInput) string {
	want := modeDistribution[in.Mode]
	var b strings.Builder
	fmt.Fprintf(&b, "Archetype: %s (%s)\n\n", in.Archetype, in.Archetype.Label())
	fmt.Fprintf(&b, "Journal entry:\n%s\n\n", truncate(in.EntryText, 4000))
	fmt.Fprintf(&b, "Detected signals:\n%s\n", in.Signals.Describe())
	fmt.Fprintf(&b, "Already known from tool activity (do not ask again):\n%s\n\n", in.Known.Summary())
	fmt.Fprintf(&b, "Write exactly %d questions: %d dig, %d impact, %d growth, in that order.\n",
		in.Mode.Count(), want[PhaseDig], want[PhaseImpact], want[PhaseGrowth])
	b.WriteString("The second dig question must ask about the key decision and who was involved by name. ")
	b.WriteString("The first impact question must ask what would have happened without this work; the second must ask for a number.\n")
	b.WriteString("Options are optional short choices; free text is always allowed.")
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func logger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
