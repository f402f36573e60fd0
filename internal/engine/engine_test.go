package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"careerline/internal/config"
	"careerline/internal/db"
	"careerline/internal/domain"
	"careerline/internal/engine"
	"careerline/internal/migrate"
	"careerline/internal/provider"
	"careerline/internal/repo"
	"careerline/internal/story"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

const longBody = "The payment gateway started timing out during the spring sale. I led the incident response, " +
	"rolled back the bad deploy and paired with Dana on a retry budget so checkout stayed up."

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Identities = map[string][]string{"alice": {"alice-gh"}}
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	fixture := engine.Fixture{
		Activities: []domain.ActivityRecord{
			{ID: "pr-1", Source: "github", Title: "Roll back gateway client", URL: "https://git.example/pr/1", Timestamp: "2024-03-02T10:00:00Z",
				Payload: map[string]any{"author": "alice-gh", "reviewers": []any{"dana"}, "additions": 40}},
			{ID: "inc-7", Source: "pagerduty", Title: "SEV1 checkout errors", Timestamp: "2024-03-01T22:00:00Z",
				Payload: map[string]any{"assignee": "alice-gh", "reporter": "bot"}},
			{ID: "mtg-3", Source: "calendar", Title: "Incident review", Timestamp: "2024-03-05T15:00:00Z",
				Payload: map[string]any{"organizer": "dana", "attendees": []any{"alice-gh", "dana", "luis"}}},
		},
		Entries: []domain.JournalEntry{
			{ID: "entry-1", UserID: "alice", Title: "Saved the spring sale", Body: longBody, Category: "incident",
				ActivityIDs: []string{"pr-1", "inc-7", "mtg-3", "deleted-9"}},
			{ID: "entry-short", UserID: "alice", Title: "Short", Description: "Short"},
			{ID: "entry-bare", UserID: "alice", Title: "Quiet refactor", Body: longBody},
			{ID: "entry-bob", UserID: "bob", Title: "Bob's work", Body: longBody},
		},
	}
	if _, err := eng.Import(ctx, fixture, "alice"); err != nil {
		t.Fatalf("import fixture: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func fullAnswers() map[string]story.WizardAnswer {
	return map[string]story.WizardAnswer{
		"firefighter-dig-1":    {Selected: []string{"Checkout was timing out"}},
		"firefighter-dig-2":    {FreeText: "Decided to roll back with Dana and Luis watching the dashboards"},
		"firefighter-dig-3":    {Selected: []string{"Risky rollback"}},
		"firefighter-impact-1": {FreeText: "We would have lost the biggest sale of the quarter"},
		"firefighter-growth-1": {FreeText: "Rollback drills every sprint"},
	}
}

func TestAnalyzeReturnsQuestionsForEveryArchetype(t *testing.T) {
	env := newTestEnv(t)
	neutral := "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor."
	for _, a := range story.Archetypes {
		entry := domain.JournalEntry{ID: "prior-" + string(a), UserID: "alice", Title: "Entry", Body: neutral,
			Enrichment: map[string]any{"archetype": string(a)}, CreatedAt: "2024-01-01T00:00:00Z"}
		if err := env.Engine.Repo.InsertEntry(env.Ctx, entry); err != nil {
			t.Fatal(err)
		}
		res, err := env.Engine.Analyze(env.Ctx, engine.AnalyzeInput{EntryID: entry.ID, UserID: "alice"})
		if err != nil {
			t.Fatalf("analyze %s: %v", a, err)
		}
		if res.Archetype.Detected != a {
			t.Fatalf("detected %s, want %s", res.Archetype.Detected, a)
		}
		phases := map[story.Phase]int{}
		for _, q := range res.Questions {
			phases[q.Phase]++
			if !strings.HasPrefix(q.ID, string(a)+"-") {
				t.Fatalf("question id %s not namespaced by %s", q.ID, a)
			}
		}
		if len(res.Questions) != 6 || phases[story.PhaseDig] == 0 || phases[story.PhaseImpact] == 0 {
			t.Fatalf("%s: unexpected question set %+v", a, phases)
		}
		if res.JournalEntry.ID != entry.ID || res.JournalEntry.Title != "Entry" {
			t.Fatalf("entry summary = %+v", res.JournalEntry)
		}
	}
}

func TestAnalyzeDetectsAndSupportsQuickMode(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Analyze(env.Ctx, engine.AnalyzeInput{EntryID: "entry-1", UserID: "alice", Mode: "quick"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Archetype.Detected != story.Firefighter {
		t.Fatalf("detected %s", res.Archetype.Detected)
	}
	if len(res.Questions) != 3 {
		t.Fatalf("quick mode returned %d questions", len(res.Questions))
	}
	if res.Archetype.Alternatives == nil {
		t.Fatalf("alternatives must be a list")
	}
	if _, err := env.Engine.Analyze(env.Ctx, engine.AnalyzeInput{EntryID: "entry-1", UserID: "alice", Mode: "endless"}); err == nil {
		t.Fatalf("expected invalid mode error")
	}
}

func TestAnalyzeErrors(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Analyze(env.Ctx, engine.AnalyzeInput{EntryID: "entry-short", UserID: "alice"})
	if !errors.Is(err, engine.ErrInsufficientContent) {
		t.Fatalf("short entry: got %v", err)
	}
	_, err = env.Engine.Analyze(env.Ctx, engine.AnalyzeInput{EntryID: "missing", UserID: "alice"})
	if !errors.Is(err, engine.ErrEntryNotFound) {
		t.Fatalf("missing entry: got %v", err)
	}
	_, errOther := env.Engine.Analyze(env.Ctx, engine.AnalyzeInput{EntryID: "entry-bob", UserID: "alice"})
	if !errors.Is(errOther, engine.ErrEntryNotFound) || !errors.Is(errOther, repo.ErrNotFound) {
		t.Fatalf("foreign entry: got %v", errOther)
	}
	if strings.Replace(errOther.Error(), "entry-bob", "missing", 1) != err.Error() {
		t.Fatalf("foreign and missing entries must look identical: %q vs %q", errOther, err)
	}
}

func TestGenerateSTARKeys(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Generate(env.Ctx, engine.GenerateInput{
		EntryID: "entry-1", UserID: "alice", Archetype: "firefighter", Framework: "STAR", Answers: fullAnswers(),
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"situation", "task", "action", "result"}
	if len(res.Story.Sections) != len(want) {
		t.Fatalf("sections = %v", res.Story.Sections)
	}
	for _, key := range want {
		if strings.TrimSpace(res.Story.Sections[key].Summary) == "" {
			t.Fatalf("section %s empty", key)
		}
	}
	if res.Story.GeneratedBy != string(story.OriginFallback) {
		t.Fatalf("generated_by = %s", res.Story.GeneratedBy)
	}
	if res.Evaluation.Score < 1 || res.Evaluation.Score > 9.5 || len(res.Evaluation.Suggestions) > 3 {
		t.Fatalf("evaluation out of bounds: %+v", res.Evaluation)
	}
}

func TestGenerateEveryFrameworkWithAndWithoutProvider(t *testing.T) {
	env := newTestEnv(t)
	partial := provider.Func(func(_ context.Context, req provider.Request) (string, error) {
		return `{"title":"Sale saved","description":"I kept checkout alive.","fullContent":"The whole story.",
			"sections":{"situation":{"summary":"Checkout timed out.","evidence":[{"activityId":"inc-7"}]},
			"action":{"summary":"Rolled back.","evidence":[{"activityId":"placeholder-1"}]}}}`, nil
	})
	broken := provider.Func(func(context.Context, provider.Request) (string, error) {
		return "", errors.New("provider unavailable")
	})
	for name, p := range map[string]provider.Provider{"none": nil, "partial": partial, "broken": broken} {
		eng := env.Engine
		eng.Provider = p
		for _, f := range story.Frameworks {
			res, err := eng.Generate(env.Ctx, engine.GenerateInput{
				EntryID: "entry-1", UserID: "alice", Archetype: "firefighter", Framework: string(f), Answers: fullAnswers(),
			})
			if err != nil {
				t.Fatalf("%s/%s: %v", name, f, err)
			}
			keys := f.Sections()
			if len(res.Story.Sections) != len(keys) {
				t.Fatalf("%s/%s: got %d sections", name, f, len(res.Story.Sections))
			}
			for _, key := range keys {
				sec, ok := res.Story.Sections[key]
				if !ok || strings.TrimSpace(sec.Summary) == "" {
					t.Fatalf("%s/%s: section %s missing or empty", name, f, key)
				}
				if len(sec.Evidence) == 0 {
					t.Fatalf("%s/%s: section %s has no evidence", name, f, key)
				}
			}
		}
	}
}

func TestGenerateEvidenceStaysInEntrySet(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Generate(env.Ctx, engine.GenerateInput{
		EntryID: "entry-1", UserID: "alice", Archetype: "firefighter", Framework: "SHARE", Answers: fullAnswers(),
	})
	if err != nil {
		t.Fatal(err)
	}
	allowed := map[string]bool{"pr-1": true, "inc-7": true, "mtg-3": true, "deleted-9": true}
	detail, err := env.Engine.GetStory(env.Ctx, res.Story.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(detail.Sources) != len(res.Sources) {
		t.Fatalf("persisted %d sources, returned %d", len(detail.Sources), len(res.Sources))
	}
	answerRows := 0
	for i, src := range detail.Sources {
		if src.SortOrder != i {
			t.Fatalf("sort order %d at %d", src.SortOrder, i)
		}
		switch src.SourceType {
		case domain.SourceActivity:
			if src.ActivityID == nil || !allowed[*src.ActivityID] {
				t.Fatalf("activity row outside entry set: %+v", src)
			}
			if src.Role == "" {
				t.Fatalf("activity row without role: %+v", src)
			}
		case domain.SourceWizardAnswer:
			answerRows++
		}
	}
	if answerRows != 5 {
		t.Fatalf("expected 5 answer rows, got %d", answerRows)
	}
	for key, sec := range detail.Story.Sections {
		for _, ev := range sec.Evidence {
			if !allowed[ev.ActivityID] {
				t.Fatalf("section %s cites %q", key, ev.ActivityID)
			}
		}
	}
}

func TestGenerateSkeletonWhenActivitiesMissing(t *testing.T) {
	env := newTestEnv(t)
	entry := domain.JournalEntry{ID: "entry-ghost", UserID: "alice", Title: "Ghost work", Body: longBody,
		ActivityIDs: []string{"gone-1", "gone-2"}, CreatedAt: "2024-01-01T00:00:00Z"}
	if err := env.Engine.Repo.InsertEntry(env.Ctx, entry); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.Generate(env.Ctx, engine.GenerateInput{EntryID: entry.ID, UserID: "alice", Archetype: "pioneer", Framework: "CARL"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sources) != 4 {
		t.Fatalf("expected one placeholder per section, got %d", len(res.Sources))
	}
	for _, src := range res.Sources {
		if src.Label != "" || src.ActivityID == nil {
			t.Fatalf("placeholder row = %+v", src)
		}
	}
}

func TestGenerateErrors(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Generate(env.Ctx, engine.GenerateInput{EntryID: "entry-1", UserID: "alice", Archetype: "wizard", Framework: "STAR"})
	var ae story.InvalidArchetypeError
	if !errors.As(err, &ae) {
		t.Fatalf("expected invalid archetype, got %v", err)
	}
	_, err = env.Engine.Generate(env.Ctx, engine.GenerateInput{EntryID: "entry-1", UserID: "alice", Archetype: "pioneer", Framework: "STORY"})
	var fe story.InvalidFrameworkError
	if !errors.As(err, &fe) {
		t.Fatalf("expected invalid framework, got %v", err)
	}
	_, err = env.Engine.Generate(env.Ctx, engine.GenerateInput{EntryID: "entry-bob", UserID: "alice", Archetype: "pioneer", Framework: "STAR"})
	if !errors.Is(err, engine.ErrEntryNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGenerateIsNotIdempotent(t *testing.T) {
	env := newTestEnv(t)
	in := engine.GenerateInput{EntryID: "entry-bare", UserID: "alice", Archetype: "architect", Framework: "SAR"}
	first, err := env.Engine.Generate(env.Ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.Generate(env.Ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if first.Story.ID == second.Story.ID {
		t.Fatalf("expected distinct stories")
	}
	stories, err := env.Engine.ListStories(env.Ctx, repo.StoryFilters{UserID: "alice", EntryID: "entry-bare"})
	if err != nil {
		t.Fatal(err)
	}
	if len(stories) != 2 {
		t.Fatalf("expected 2 stories, got %d", len(stories))
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "story.promoted", "career_story", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 2 {
		t.Fatalf("expected 2 promotion events, got %d", len(evts))
	}
	if _, err := env.Engine.GetStory(env.Ctx, first.Story.ID, "bob"); !errors.Is(err, engine.ErrStoryNotFound) {
		t.Fatalf("foreign story: %v", err)
	}
}

func TestQuantifiedMetricRaisesScore(t *testing.T) {
	env := newTestEnv(t)
	in := engine.GenerateInput{EntryID: "entry-1", UserID: "alice", Archetype: "firefighter", Framework: "STAR", Answers: fullAnswers()}
	without, err := env.Engine.Generate(env.Ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	answers := fullAnswers()
	answers["firefighter-impact-2"] = story.WizardAnswer{FreeText: "Recovered 40% of failed orders within 20 minutes"}
	in.Answers = answers
	with, err := env.Engine.Generate(env.Ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if with.Evaluation.Score <= without.Evaluation.Score {
		t.Fatalf("metric did not raise score: %v -> %v", without.Evaluation.Score, with.Evaluation.Score)
	}
}

func TestProviderTimeoutFallsBack(t *testing.T) {
	env := newTestEnv(t)
	var calls atomic.Int32
	eng := env.Engine
	eng.Config.Promotion.ProviderTimeout = "20ms"
	eng.Provider = provider.Func(func(ctx context.Context, _ provider.Request) (string, error) {
		calls.Add(1)
		<-ctx.Done()
		return "", ctx.Err()
	})
	res, err := eng.Generate(env.Ctx, engine.GenerateInput{EntryID: "entry-1", UserID: "alice", Archetype: "detective", Framework: "PAR"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Story.GeneratedBy != "fallback" || calls.Load() != 1 {
		t.Fatalf("generated_by=%s calls=%d", res.Story.GeneratedBy, calls.Load())
	}
}

func TestDecodeFixture(t *testing.T) {
	f, err := engine.DecodeFixture([]byte(`
activities:
  - id: pr-9
    source: github
    title: Add cache
    timestamp: 2024-02-01T00:00:00Z
    payload:
      author: alice-gh
entries:
  - title: Cached the hot path
    body: Long enough text
    activity_ids: [pr-9]
`))
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Activities) != 1 || f.Activities[0].Payload["author"] != "alice-gh" {
		t.Fatalf("activities = %+v", f.Activities)
	}
	if len(f.Entries) != 1 || f.Entries[0].ActivityIDs[0] != "pr-9" {
		t.Fatalf("entries = %+v", f.Entries)
	}
	if _, err := engine.DecodeFixture([]byte("entries: [")); err == nil {
		t.Fatalf("expected decode error")
	}
}
