package domain

import "strings"

// JournalEntry is a free-form work journal entry owned by a user.
type JournalEntry struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Body        string         `json:"body,omitempty"`
	ActivityIDs []string       `json:"activity_ids"`
	Category    string         `json:"category,omitempty"`
	Enrichment  map[string]any `json:"enrichment,omitempty"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
}

// Text concatenates the entry's title, description and body.
func (e JournalEntry) Text() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{e.Title, e.Description, e.Body} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}

// ActivityRecord is raw tool activity (pull request, ticket, meeting...).
type ActivityRecord struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"`
	URL       string         `json:"url,omitempty"`
	Title     string         `json:"title"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp string         `json:"timestamp" format:"date-time"`
}

type CareerStory struct {
	ID            string                  `json:"id"`
	UserID        string                  `json:"user_id"`
	EntryID       string                  `json:"entry_id"`
	Title         string                  `json:"title"`
	Hook          string                  `json:"hook"`
	Framework     string                  `json:"framework"`
	Archetype     string                  `json:"archetype"`
	Category      string                  `json:"category,omitempty"`
	Description   string                  `json:"description,omitempty"`
	FullContent   string                  `json:"full_content,omitempty"`
	Sections      map[string]StorySection `json:"sections"`
	WizardAnswers map[string]any          `json:"wizard_answers,omitempty"`
	Score         float64                 `json:"score"`
	GeneratedBy   string                  `json:"generated_by" enum:"provider,fallback"`
	CreatedAt     string                  `json:"created_at" format:"date-time"`
}

type StorySection struct {
	Summary  string        `json:"summary"`
	Evidence []EvidenceRef `json:"evidence"`
}

type EvidenceRef struct {
	ActivityID  string `json:"activityId,omitempty"`
	Description string `json:"description,omitempty"`
}

const (
	SourceActivity     = "activity"
	SourceWizardAnswer = "wizard_answer"
)

type StorySource struct {
	ID         string  `json:"id"`
	StoryID    string  `json:"story_id"`
	SectionKey string  `json:"section_key"`
	SourceType string  `json:"source_type" enum:"activity,wizard_answer"`
	ActivityID *string `json:"activity_id,omitempty"`
	Label      string  `json:"label"`
	URL        string  `json:"url,omitempty"`
	Role       string  `json:"role,omitempty"`
	Annotation string  `json:"annotation,omitempty"`
	SortOrder  int     `json:"sort_order"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
