package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"careerline/internal/db"
	"careerline/internal/domain"
	"careerline/internal/migrate"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	return Repo{DB: conn}
}

func TestEntryOwnership(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	e := domain.JournalEntry{
		ID: "e1", UserID: "alice", Title: "Migrated billing", Body: "Long body",
		ActivityIDs: []string{"a1", "a2"}, Enrichment: map[string]any{"archetype": "architect"},
		CreatedAt: "2024-05-01T00:00:00Z",
	}
	require.NoError(t, r.InsertEntry(ctx, e))

	got, err := r.GetEntryForOwner(ctx, "e1", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, got.ActivityIDs)
	assert.Equal(t, "architect", got.Enrichment["archetype"])
	assert.Equal(t, "Long body", got.Body)

	_, err = r.GetEntryForOwner(ctx, "e1", "mallory")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.GetEntryForOwner(ctx, "nope", "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	e.Title = "Migrated billing v2"
	require.NoError(t, r.InsertEntry(ctx, e))
	list, err := r.ListEntries(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Migrated billing v2", list[0].Title)
}

func TestActivitiesSkipUnknown(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, r.UpsertActivity(ctx, domain.ActivityRecord{ID: "a1", Source: "github", Title: "PR", Payload: map[string]any{"author": "alice", "additions": 12}}))
	require.NoError(t, r.UpsertActivity(ctx, domain.ActivityRecord{ID: "a2", Source: "jira", Title: "Ticket", Timestamp: "2024-01-02T00:00:00Z"}))

	got, err := r.GetActivities(ctx, []string{"a2", "missing", "a1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, "alice", got[0].Payload["author"])
	assert.Equal(t, float64(12), got[0].Payload["additions"])
	assert.Nil(t, got[1].Payload)

	empty, err := r.GetActivities(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStoryRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, r.InsertEntry(ctx, domain.JournalEntry{ID: "e1", UserID: "alice", Title: "t", CreatedAt: "2024-05-01T00:00:00Z"}))

	activity := "a1"
	story := domain.CareerStory{
		ID: "s1", UserID: "alice", EntryID: "e1", Title: "Title", Hook: "Hook", Framework: "CAR", Archetype: "detective",
		Sections: map[string]domain.StorySection{
			"challenge": {Summary: "c", Evidence: []domain.EvidenceRef{{ActivityID: "a1"}}},
			"action":    {Summary: "a", Evidence: []domain.EvidenceRef{}},
			"result":    {Summary: "r", Evidence: []domain.EvidenceRef{}},
		},
		WizardAnswers: map[string]any{"detective-dig-1": map[string]any{"selected": []any{}, "freeText": "x"}},
		Score:         6.5, GeneratedBy: "fallback", CreatedAt: "2024-05-02T00:00:00Z",
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.InsertStoryTx(ctx, tx, story))
	require.NoError(t, r.InsertSourceTx(ctx, tx, domain.StorySource{ID: "src2", StoryID: "s1", SectionKey: "result", SourceType: domain.SourceWizardAnswer, Label: "Interview: measured impact", Annotation: "3 hours", SortOrder: 1}))
	require.NoError(t, r.InsertSourceTx(ctx, tx, domain.StorySource{ID: "src1", StoryID: "s1", SectionKey: "challenge", SourceType: domain.SourceActivity, ActivityID: &activity, Label: "PR", Role: "authored", SortOrder: 0}))
	require.NoError(t, tx.Commit())

	got, err := r.GetStoryForOwner(ctx, "s1", "alice")
	require.NoError(t, err)
	assert.Equal(t, story.Sections, got.Sections)
	assert.Equal(t, 6.5, got.Score)
	assert.Contains(t, got.WizardAnswers, "detective-dig-1")

	_, err = r.GetStoryForOwner(ctx, "s1", "bob")
	assert.ErrorIs(t, err, ErrNotFound)

	sources, err := r.ListSources(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "src1", sources[0].ID)
	require.NotNil(t, sources[0].ActivityID)
	assert.Equal(t, "a1", *sources[0].ActivityID)
	assert.Nil(t, sources[1].ActivityID)

	list, err := r.ListStories(ctx, StoryFilters{UserID: "alice", EntryID: "e1"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = r.ListStories(ctx, StoryFilters{UserID: "alice", Framework: "STAR"})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStoryRollbackLeavesNothing(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, r.InsertEntry(ctx, domain.JournalEntry{ID: "e1", UserID: "alice", Title: "t", CreatedAt: "2024-05-01T00:00:00Z"}))
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.InsertStoryTx(ctx, tx, domain.CareerStory{ID: "s1", UserID: "alice", EntryID: "e1", Title: "t", Framework: "SAR", Archetype: "pioneer", Sections: map[string]domain.StorySection{}, GeneratedBy: "fallback", CreatedAt: "x"}))
	err = r.InsertSourceTx(ctx, tx, domain.StorySource{ID: "src", StoryID: "s1", SectionKey: "action", SourceType: "bogus", SortOrder: 0})
	require.Error(t, err)
	require.NoError(t, tx.Rollback())

	_, err = r.GetStoryForOwner(ctx, "s1", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}
