package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"careerline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const entryColumns = `id,user_id,title,COALESCE(description,''),COALESCE(body,''),activity_ids_json,COALESCE(category,''),enrichment_json,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (domain.JournalEntry, error) {
	var (
		e          domain.JournalEntry
		ids        string
		enrichment sql.NullString
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.Title, &e.Description, &e.Body, &ids, &e.Category, &enrichment, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, ErrNotFound
		}
		return e, err
	}
	if err := json.Unmarshal([]byte(ids), &e.ActivityIDs); err != nil {
		return e, fmt.Errorf("decode activity ids of entry %s: %w", e.ID, err)
	}
	if e.ActivityIDs == nil {
		e.ActivityIDs = []string{}
	}
	if enrichment.Valid && enrichment.String != "" {
		if err := json.Unmarshal([]byte(enrichment.String), &e.Enrichment); err != nil {
			return e, fmt.Errorf("decode enrichment of entry %s: %w", e.ID, err)
		}
	}
	return e, nil
}

// InsertEntry stores a journal entry, replacing one with the same id.
func (r Repo) InsertEntry(ctx context.Context, e domain.JournalEntry) error {
	return r.insertEntry(ctx, r.DB, e)
}

func (r Repo) InsertEntryTx(ctx context.Context, tx *sql.Tx, e domain.JournalEntry) error {
	return r.insertEntry(ctx, tx, e)
}

func (r Repo) insertEntry(ctx context.Context, q querier, e domain.JournalEntry) error {
	ids := e.ActivityIDs
	if ids == nil {
		ids = []string{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	enrichment, err := nullableJSON(e.Enrichment)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO journal_entries(id,user_id,title,description,body,activity_ids_json,category,enrichment_json,created_at) VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET user_id=excluded.user_id, title=excluded.title, description=excluded.description, body=excluded.body,
activity_ids_json=excluded.activity_ids_json, category=excluded.category, enrichment_json=excluded.enrichment_json`,
		e.ID, e.UserID, e.Title, nullable(e.Description), nullable(e.Body), string(idsJSON), nullable(e.Category), enrichment, e.CreatedAt)
	return err
}

// GetEntryForOwner returns ErrNotFound both when the entry is missing and
// when it belongs to someone else.
func (r Repo) GetEntryForOwner(ctx context.Context, id, userID string) (domain.JournalEntry, error) {
	return scanEntry(r.DB.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=? AND user_id=?`, id, userID))
}

func (r Repo) ListEntries(ctx context.Context, userID string, limit int) ([]domain.JournalEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM journal_entries WHERE user_id=? ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// UpsertActivity stores an activity record; re-importing refreshes it.
func (r Repo) UpsertActivity(ctx context.Context, a domain.ActivityRecord) error {
	return r.upsertActivity(ctx, r.DB, a)
}

func (r Repo) UpsertActivityTx(ctx context.Context, tx *sql.Tx, a domain.ActivityRecord) error {
	return r.upsertActivity(ctx, tx, a)
}

func (r Repo) upsertActivity(ctx context.Context, q querier, a domain.ActivityRecord) error {
	payload, err := nullableJSON(a.Payload)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO activities(id,source,url,title,payload_json,ts) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET source=excluded.source, url=excluded.url, title=excluded.title, payload_json=excluded.payload_json, ts=excluded.ts`,
		a.ID, a.Source, nullable(a.URL), a.Title, payload, nullable(a.Timestamp))
	return err
}

// GetActivities fetches the records for ids. Unknown ids are skipped.
func (r Repo) GetActivities(ctx context.Context, ids []string) ([]domain.ActivityRecord, error) {
	if len(ids) == 0 {
		return []domain.ActivityRecord{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,source,COALESCE(url,''),title,payload_json,COALESCE(ts,'') FROM activities WHERE id IN (`+placeholders+`) ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ActivityRecord{}
	for rows.Next() {
		var (
			a       domain.ActivityRecord
			payload sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Source, &a.URL, &a.Title, &payload, &a.Timestamp); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &a.Payload); err != nil {
				return nil, fmt.Errorf("decode payload of activity %s: %w", a.ID, err)
			}
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertStoryTx(ctx context.Context, tx *sql.Tx, s domain.CareerStory) error {
	sections, err := json.Marshal(s.Sections)
	if err != nil {
		return fmt.Errorf("encode sections: %w", err)
	}
	answers, err := nullableJSON(s.WizardAnswers)
	if err != nil {
		return fmt.Errorf("encode wizard answers: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO career_stories(id,user_id,entry_id,title,hook,framework,archetype,category,description,full_content,sections_json,wizard_answers_json,score,generated_by,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.UserID, s.EntryID, s.Title, nullable(s.Hook), s.Framework, s.Archetype, nullable(s.Category), nullable(s.Description),
		nullable(s.FullContent), string(sections), answers, s.Score, s.GeneratedBy, s.CreatedAt)
	return err
}

func (r Repo) InsertSourceTx(ctx context.Context, tx *sql.Tx, src domain.StorySource) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO story_sources(id,story_id,section_key,source_type,activity_id,label,url,role,annotation,sort_order) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		src.ID, src.StoryID, src.SectionKey, src.SourceType, nullableStringPtr(src.ActivityID), src.Label, nullable(src.URL),
		nullable(src.Role), nullable(src.Annotation), src.SortOrder)
	return err
}

const storyColumns = `id,user_id,entry_id,title,COALESCE(hook,''),framework,archetype,COALESCE(category,''),COALESCE(description,''),COALESCE(full_content,''),sections_json,wizard_answers_json,score,generated_by,created_at`

func scanStory(row rowScanner) (domain.CareerStory, error) {
	var (
		s        domain.CareerStory
		sections string
		answers  sql.NullString
	)
	err := row.Scan(&s.ID, &s.UserID, &s.EntryID, &s.Title, &s.Hook, &s.Framework, &s.Archetype, &s.Category,
		&s.Description, &s.FullContent, &sections, &answers, &s.Score, &s.GeneratedBy, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal([]byte(sections), &s.Sections); err != nil {
		return s, fmt.Errorf("decode sections of story %s: %w", s.ID, err)
	}
	if answers.Valid && answers.String != "" {
		if err := json.Unmarshal([]byte(answers.String), &s.WizardAnswers); err != nil {
			return s, fmt.Errorf("decode answers of story %s: %w", s.ID, err)
		}
	}
	return s, nil
}

// GetStoryForOwner mirrors GetEntryForOwner: another user's story is
// reported as missing.
func (r Repo) GetStoryForOwner(ctx context.Context, id, userID string) (domain.CareerStory, error) {
	return scanStory(r.DB.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM career_stories WHERE id=? AND user_id=?`, id, userID))
}

type StoryFilters struct {
	UserID    string
	EntryID   string
	Framework string
	Limit     int
}

func (r Repo) ListStories(ctx context.Context, f StoryFilters) ([]domain.CareerStory, error) {
	clauses := []string{"user_id=?"}
	args := []any{f.UserID}
	if f.EntryID != "" {
		clauses = append(clauses, "entry_id=?")
		args = append(args, f.EntryID)
	}
	if f.Framework != "" {
		clauses = append(clauses, "framework=?")
		args = append(args, f.Framework)
	}
	query := `SELECT ` + storyColumns + ` FROM career_stories WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CareerStory
	for rows.Next() {
		s, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ListSources returns a story's evidence rows in sort order.
func (r Repo) ListSources(ctx context.Context, storyID string) ([]domain.StorySource, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,story_id,section_key,source_type,activity_id,label,COALESCE(url,''),COALESCE(role,''),COALESCE(annotation,''),sort_order
FROM story_sources WHERE story_id=? ORDER BY sort_order, id`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.StorySource{}
	for rows.Next() {
		var (
			s          domain.StorySource
			activityID sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.StoryID, &s.SectionKey, &s.SourceType, &activityID, &s.Label, &s.URL, &s.Role, &s.Annotation, &s.SortOrder); err != nil {
			return nil, err
		}
		if activityID.Valid {
			s.ActivityID = &activityID.String
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableJSON[T any](v map[string]T) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
