package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"careerline/internal/domain"
	"careerline/internal/provider"
)

// DefaultProviderTimeout bounds one provider call.
const DefaultProviderTimeout = 30 * time.Second

const fallbackPhase = "execution"

// NarrativePhase groups activities into a stage of the work.
type NarrativePhase struct {
	Name        string   `json:"name"`
	Summary     string   `json:"summary,omitempty"`
	ActivityIDs []string `json:"activityIds"`
}

// Narrative is the synthesized story before evidence reconciliation.
type Narrative struct {
	Title            string
	Hook             string
	Description      string
	FullContent      string
	Sections         map[string]domain.StorySection
	Topics           []string
	Skills           []string
	ImpactHighlights []string
	DominantRole     string
	Phases           []NarrativePhase
	Origin           Origin
}

// NarrativeInput is everything the narrative is conditioned on.
type NarrativeInput struct {
	Entry      domain.JournalEntry
	Archetype  Archetype
	Framework  Framework
	Context    ExtractedContext
	Activities []ActivityContext
}

// NarrativeGenerator synthesizes framework sections, falling back to a local
// construction whenever the provider cannot deliver.
type NarrativeGenerator struct {
	Provider provider.Provider
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Generate never fails: provider errors are logged and replaced by
// FallbackNarrative.
func (g NarrativeGenerator) Generate(ctx context.Context, in NarrativeInput) Narrative {
	fallback := FallbackNarrative(in)
	if g.Provider == nil {
		return fallback
	}
	n, err := g.remote(ctx, in, fallback)
	if err != nil {
		logger(g.Logger).Warn("narrative generation fell back to local construction",
			zap.String("entry_id", in.Entry.ID), zap.String("framework", string(in.Framework)), zap.Error(err))
		return fallback
	}
	return n
}

type narrativePayload struct {
	Title       string `json:"title"`
	Hook        string `json:"hook"`
	Description string `json:"description"`
	FullContent string `json:"fullContent"`
	Sections    map[string]struct {
		Summary  string `json:"summary"`
		Evidence []struct {
			ActivityID  string `json:"activityId"`
			Description string `json:"description"`
		} `json:"evidence"`
	} `json:"sections"`
	Topics           []string         `json:"topics"`
	Skills           []string         `json:"skills"`
	ImpactHighlights []string         `json:"impactHighlights"`
	DominantRole     string           `json:"dominantRole"`
	Phases           []NarrativePhase `json:"phases"`
}

func (g NarrativeGenerator) remote(ctx context.Context, in NarrativeInput, fallback Narrative) (Narrative, error) {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	prompt, err := narrativePrompt(in)
	if err != nil {
		return Narrative{}, err
	}
	text, err := g.Provider.Complete(ctx, provider.Request{
		Operation: "narrative",
		System:    narrativeSystemPrompt,
		Prompt:    prompt,
		JSON:      true,
		MaxTokens: 4096,
		Validate: func(text string) error {
			_, err := decodeNarrative(text)
			return err
		},
	})
	if err != nil {
		return Narrative{}, err
	}
	p, err := decodeNarrative(text)
	if err != nil {
		return Narrative{}, err
	}
	n := Narrative{
		Title:            firstNonEmpty(p.Title, fallback.Title),
		Hook:             firstNonEmpty(p.Hook, fallback.Hook),
		Description:      strings.TrimSpace(p.Description),
		FullContent:      strings.TrimSpace(p.FullContent),
		Sections:         make(map[string]domain.StorySection, len(fallback.Sections)),
		Topics:           nonNil(p.Topics),
		Skills:           nonNil(p.Skills),
		ImpactHighlights: nonNil(p.ImpactHighlights),
		DominantRole:     firstNonEmpty(p.DominantRole, fallback.DominantRole),
		Phases:           p.Phases,
		Origin:           OriginProvider,
	}
	if n.Phases == nil {
		n.Phases = []NarrativePhase{}
	}
	for _, key := range in.Framework.Sections() {
		sec, ok := p.Sections[key]
		summary := strings.TrimSpace(sec.Summary)
		if !ok || summary == "" {
			n.Sections[key] = fallback.Sections[key]
			continue
		}
		out := domain.StorySection{Summary: summary, Evidence: []domain.EvidenceRef{}}
		for _, ev := range sec.Evidence {
			out.Evidence = append(out.Evidence, domain.EvidenceRef{ActivityID: ev.ActivityID, Description: strings.TrimSpace(ev.Description)})
		}
		n.Sections[key] = out
	}
	return n, nil
}

func decodeNarrative(text string) (narrativePayload, error) {
	var p narrativePayload
	if err := provider.DecodeJSON(text, &p); err != nil {
		return p, err
	}
	if strings.TrimSpace(p.FullContent) == "" {
		return p, errors.New("response missing fullContent")
	}
	if strings.TrimSpace(p.Description) == "" {
		return p, errors.New("response missing description")
	}
	return p, nil
}

// FallbackNarrative builds a complete narrative from the entry alone. It is
// pure and performs no I/O.
func FallbackNarrative(in NarrativeInput) Narrative {
	e := in.Entry
	title := firstNonEmpty(e.Title, firstSentence(e.Description), "Untitled work")
	description := firstNonEmpty(e.Description, e.Title, title)
	keys := in.Framework.Sections()
	ids := make([]string, 0, len(in.Activities))
	for _, a := range in.Activities {
		ids = append(ids, a.ID)
	}
	evidence := map[string][]domain.EvidenceRef{}
	for _, as := range Distribute(keys, ids) {
		evidence[as.SectionKey] = append(evidence[as.SectionKey], domain.EvidenceRef{ActivityID: as.ActivityID})
	}
	sections := make(map[string]domain.StorySection, len(keys))
	for _, key := range keys {
		ev := evidence[key]
		if ev == nil {
			ev = []domain.EvidenceRef{}
		}
		sections[key] = domain.StorySection{Summary: fallbackSummary(key, title, description, in.Context), Evidence: ev}
	}
	var parts []string
	for _, key := range keys {
		parts = append(parts, sections[key].Summary)
	}
	return Narrative{
		Title:            title,
		Hook:             firstSentence(description),
		Description:      truncate(description, 280),
		FullContent:      strings.Join(parts, "\n\n"),
		Sections:         sections,
		Topics:           []string{},
		Skills:           []string{},
		ImpactHighlights: impactHighlights(in.Context),
		DominantRole:     dominantRole(in.Activities),
		Phases:           []NarrativePhase{{Name: fallbackPhase, ActivityIDs: ids}},
		Origin:           OriginFallback,
	}
}

func fallbackSummary(key, title, description string, c ExtractedContext) string {
	switch sectionRoles[key] {
	case roleOpening:
		if key == "task" {
			return "The goal: " + title + "."
		}
		return firstNonEmpty(c.RealStory, description)
	case roleAction:
		if c.KeyDecision != "" {
			return c.KeyDecision
		}
		return "Took ownership of " + lowerFirst(title) + " and drove the work to completion."
	case roleObstacle:
		return firstNonEmpty(c.Obstacle, "Worked through the constraints and competing priorities around "+lowerFirst(title)+".")
	case roleResult:
		var parts []string
		for _, p := range []string{c.Metric, c.Counterfactual} {
			if p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
		return "Delivered " + lowerFirst(title) + "."
	case roleLearning:
		return firstNonEmpty(c.Learning, "Carried the lessons from "+lowerFirst(title)+" into how the next piece of work was approached.")
	}
	return description
}

func impactHighlights(c ExtractedContext) []string {
	out := []string{}
	if c.Metric != "" {
		out = append(out, c.Metric)
	}
	if c.Counterfactual != "" {
		out = append(out, c.Counterfactual)
	}
	return out
}

func dominantRole(acts []ActivityContext) string {
	counts := map[string]int{}
	best, bestN := "contributor", 0
	for _, a := range acts {
		counts[a.Role]++
		if counts[a.Role] > bestN {
			best, bestN = a.Role, counts[a.Role]
		}
	}
	return best
}

const narrativeSystemPrompt = `You turn an engineer's journal entry into a short career story.
Ground every section in the supplied tool activity; cite activity ids exactly as given.
Respond ONLY with a JSON object:
{"title":"","hook":"","description":"","fullContent":"","sections":{"<key>":{"summary":"","evidence":[{"activityId":"","description":""}]}},"topics":[],"skills":[],"impactHighlights":[],"dominantRole":"","phases":[{"name":"","summary":"","activityIds":[]}]}`

func narrativePrompt(in NarrativeInput) (string, error) {
	acts, err := json.Marshal(in.Activities)
	if err != nil {
		return "", fmt.Errorf("marshal activities: %w", err)
	}
	answers, err := json.Marshal(in.Context)
	if err != nil {
		return "", fmt.Errorf("marshal context: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Archetype: %s (%s)\n", in.Archetype, in.Archetype.Label())
	fmt.Fprintf(&b, "Framework: %s. Write exactly these sections in order: %s\n\n", in.Framework, strings.Join(in.Framework.Sections(), ", "))
	fmt.Fprintf(&b, "Journal entry title: %s\n", in.Entry.Title)
	fmt.Fprintf(&b, "Description: %s\n", in.Entry.Description)
	fmt.Fprintf(&b, "Body:\n%s\n\n", truncate(in.Entry.Body, 6000))
	fmt.Fprintf(&b, "Interview answers (authoritative, use their specifics):\n%s\n\n", answers)
	fmt.Fprintf(&b, "Tool activity (primary evidence, %d items):\n%s\n\n", len(in.Activities), acts)
	b.WriteString("Each section summary is 1-3 sentences in first person. Use numbers and names from the answers. ")
	b.WriteString("description is one sentence; fullContent is the whole story as prose.")
	return b.String(), nil
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".!?\n"); i >= 0 {
		return strings.TrimSpace(s[:i+1])
	}
	return s
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	// keep acronyms and proper names intact
	if len(r) > 1 && strings.ToUpper(string(r[1])) == string(r[1]) {
		return s
	}
	return strings.ToLower(string(r[0])) + string(r[1:])
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
