package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"careerline/internal/domain"
	"careerline/internal/events"
)

// Fixture is an import file of activities and the entries that cite them.
// Entries and activities normally arrive from upstream tools; fixtures let a
// workspace be seeded by hand.
type Fixture struct {
	Activities []domain.ActivityRecord `json:"activities"`
	Entries    []domain.JournalEntry   `json:"entries"`
}

// DecodeFixture reads a YAML or JSON fixture. Field names follow the JSON
// tags of the domain types.
func DecodeFixture(data []byte) (Fixture, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Fixture{}, fmt.Errorf("invalid fixture: %w", err)
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return Fixture{}, fmt.Errorf("invalid fixture: %w", err)
	}
	var f Fixture
	if err := json.Unmarshal(buf, &f); err != nil {
		return Fixture{}, fmt.Errorf("invalid fixture: %w", err)
	}
	return f, nil
}

type ImportResult struct {
	Activities int      `json:"activities"`
	EntryIDs   []string `json:"entry_ids"`
}

// Import stores a fixture in one transaction. Entries without a user are
// assigned to userID; entries without an id get a generated one.
func (e Engine) Import(ctx context.Context, f Fixture, userID string) (ImportResult, error) {
	if userID == "" {
		return ImportResult{}, errors.New("user is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ImportResult{}, err
	}
	defer tx.Rollback()

	res := ImportResult{EntryIDs: []string{}}
	for _, a := range f.Activities {
		if a.ID == "" || a.Title == "" {
			return ImportResult{}, fmt.Errorf("activity requires id and title")
		}
		if err := e.Repo.UpsertActivityTx(ctx, tx, a); err != nil {
			return ImportResult{}, fmt.Errorf("import activity %s: %w", a.ID, err)
		}
		res.Activities++
	}
	now := e.now().UTC().Format(time.RFC3339)
	for _, entry := range f.Entries {
		if entry.Title == "" {
			return ImportResult{}, fmt.Errorf("entry %q requires a title", entry.ID)
		}
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		if entry.UserID == "" {
			entry.UserID = userID
		}
		if entry.CreatedAt == "" {
			entry.CreatedAt = now
		}
		if err := e.Repo.InsertEntryTx(ctx, tx, entry); err != nil {
			return ImportResult{}, fmt.Errorf("import entry %s: %w", entry.ID, err)
		}
		if err := e.Events.Append(ctx, tx, events.EntryImported, "journal_entry", entry.ID, userID, events.EventPayload{
			"activities": len(entry.ActivityIDs),
		}); err != nil {
			return ImportResult{}, err
		}
		res.EntryIDs = append(res.EntryIDs, entry.ID)
	}
	if err := tx.Commit(); err != nil {
		return ImportResult{}, err
	}
	return res, nil
}
