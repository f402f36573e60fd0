package story

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"careerline/internal/domain"
)

func TestEvaluateBaseline(t *testing.T) {
	ev := Evaluate(map[string]domain.StorySection{"result": {Summary: "It went well."}}, ExtractedContext{})
	assert.Equal(t, 5.0, ev.Score)
	assert.Len(t, ev.Suggestions, 3)
	assert.Contains(t, ev.CoachComment, "drama")
	assert.Len(t, ev.Factors, 4)
}

func TestEvaluateAllFactors(t *testing.T) {
	ev := Evaluate(
		map[string]domain.StorySection{"result": {Summary: "Cut p99 latency by 35% for 2 teams."}},
		ExtractedContext{NamedPeople: []string{"Sarah"}, Counterfactual: "We would have missed the launch", Metric: "35% faster"},
	)
	assert.Equal(t, 8.0, ev.Score)
	assert.Empty(t, ev.Suggestions)
	assert.NotNil(t, ev.Suggestions)
	assert.Contains(t, ev.CoachComment, "Excellent")
}

func TestEvaluateSpecificityPattern(t *testing.T) {
	for _, s := range []string{"saved $40k", "took 3 weeks", "12 engineers joined", "up 4.5%", "cut 90 minutes"} {
		ev := Evaluate(map[string]domain.StorySection{"x": {Summary: s}}, ExtractedContext{})
		assert.Equal(t, 6.0, ev.Score, s)
	}
	ev := Evaluate(map[string]domain.StorySection{"x": {Summary: "version 2 released"}}, ExtractedContext{})
	assert.Equal(t, 5.0, ev.Score)
}

func TestEvaluateMetricNeedsNumber(t *testing.T) {
	ev := Evaluate(nil, ExtractedContext{Metric: "a lot"})
	assert.Equal(t, 5.0, ev.Score)
}

var summaries = []string{"", "Did the work.", "Reduced cost by 20%", "Saved $300", "Helped 4 teams", "Took ownership"}

func drawEvaluationInput(rt *rapid.T) (map[string]domain.StorySection, ExtractedContext) {
	f := rapid.SampledFrom(Frameworks).Draw(rt, "framework")
	sections := map[string]domain.StorySection{}
	for _, key := range f.Sections() {
		sections[key] = domain.StorySection{Summary: rapid.SampledFrom(summaries).Draw(rt, key)}
	}
	c := ExtractedContext{
		Counterfactual: rapid.SampledFrom([]string{"", "We would have lost the quarter"}).Draw(rt, "counterfactual"),
	}
	if rapid.Bool().Draw(rt, "people") {
		c.NamedPeople = []string{"Dana"}
	}
	return sections, c
}

func TestEvaluateBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sections, c := drawEvaluationInput(rt)
		c.Metric = rapid.String().Draw(rt, "metric")
		ev := Evaluate(sections, c)
		if ev.Score < 1.0 || ev.Score > 9.5 {
			rt.Fatalf("score out of range: %v", ev.Score)
		}
		if len(ev.Suggestions) > 3 {
			rt.Fatalf("too many suggestions: %d", len(ev.Suggestions))
		}
		if ev.CoachComment == "" {
			rt.Fatalf("empty coach comment")
		}
	})
}

func TestEvaluateQuantifiedMetricRaisesScore(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sections, c := drawEvaluationInput(rt)
		without := Evaluate(sections, c)
		c.Metric = rapid.StringMatching(`[a-z ]{0,8}[0-9]{1,4}[a-z% ]{0,8}`).Draw(rt, "metric")
		with := Evaluate(sections, c)
		if with.Score <= without.Score {
			rt.Fatalf("metric %q did not raise score: %v -> %v", c.Metric, without.Score, with.Score)
		}
	})
}
