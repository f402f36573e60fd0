package story

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"careerline/internal/domain"
)

// DefaultMaxActivities caps how many activities reach a prompt.
const DefaultMaxActivities = 30

// Identity lists the handles an acting user appears under in tool payloads.
type Identity struct {
	UserID  string
	Handles []string
}

func (id Identity) matches(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	if strings.EqualFold(v, id.UserID) {
		return true
	}
	for _, h := range id.Handles {
		if strings.EqualFold(v, h) {
			return true
		}
	}
	return false
}

// ActivityContext is the prompt-safe projection of an ActivityRecord.
type ActivityContext struct {
	ID     string   `json:"id"`
	Source string   `json:"source"`
	Title  string   `json:"title"`
	Date   string   `json:"date,omitempty"`
	People []string `json:"people,omitempty"`
	Scope  []string `json:"scope,omitempty"`
	Labels []string `json:"labels,omitempty"`
	Role   string   `json:"role"`
}

// RankedActivities is the bounded, ordered activity set for one entry.
type RankedActivities struct {
	Contexts []ActivityContext
	// Records holds the selected raw records keyed by id for evidence binding.
	Records map[string]domain.ActivityRecord
	// Skills carries prior enrichment hints.
	Skills []string
}

// IDs returns the ranked activity ids in order.
func (r RankedActivities) IDs() []string {
	ids := make([]string, len(r.Contexts))
	for i, c := range r.Contexts {
		ids[i] = c.ID
	}
	return ids
}

// Ranker selects and normalizes activities for prompting.
type Ranker struct {
	Max int
}

var roleWeights = []struct {
	field  string
	weight int
}{
	{"author", 3},
	{"assignee", 2},
	{"organizer", 2},
	{"reporter", 1},
}

// Rank keeps records listed in ids, orders them by role match strength then
// recency, caps the result and projects each record.
func (rk Ranker) Rank(ids []string, records []domain.ActivityRecord, who Identity, hints map[string]any) RankedActivities {
	limit := rk.Max
	if limit <= 0 {
		limit = DefaultMaxActivities
	}
	allowed := make(map[string]bool, len(ids))
	for _, id := range ids {
		allowed[id] = true
	}
	type candidate struct {
		rec   domain.ActivityRecord
		score int
		ts    time.Time
	}
	seen := map[string]bool{}
	var cands []candidate
	for _, rec := range records {
		if !allowed[rec.ID] || seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		cands = append(cands, candidate{rec: rec, score: roleScore(rec.Payload, who), ts: parseTime(rec.Timestamp)})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		if !cands[i].ts.Equal(cands[j].ts) {
			return cands[i].ts.After(cands[j].ts)
		}
		return cands[i].rec.ID < cands[j].rec.ID
	})
	if len(cands) > limit {
		cands = cands[:limit]
	}
	out := RankedActivities{Records: make(map[string]domain.ActivityRecord, len(cands)), Skills: stringList(hints["skills"])}
	for _, c := range cands {
		out.Contexts = append(out.Contexts, project(c.rec, who))
		out.Records[c.rec.ID] = c.rec
	}
	return out
}

func roleScore(payload map[string]any, who Identity) int {
	for _, rw := range roleWeights {
		for _, v := range stringList(payload[rw.field]) {
			if who.matches(v) {
				return rw.weight
			}
		}
	}
	return 0
}

var peopleFields = []string{"author", "assignee", "organizer", "reporter", "reviewers", "attendees", "participants"}

var scopeFields = []struct {
	field string
	unit  string
}{
	{"additions", "lines added"},
	{"deletions", "lines removed"},
	{"changed_files", "files changed"},
	{"comments", "comments"},
	{"story_points", "story points"},
	{"duration_minutes", "minutes"},
}

func project(rec domain.ActivityRecord, who Identity) ActivityContext {
	ctx := ActivityContext{
		ID:     rec.ID,
		Source: rec.Source,
		Title:  rec.Title,
		Role:   DetectRole(rec.Payload),
		Labels: stringList(rec.Payload["labels"]),
	}
	if ts := parseTime(rec.Timestamp); !ts.IsZero() {
		ctx.Date = ts.UTC().Format("2006-01-02")
	}
	seen := map[string]bool{}
	for _, f := range peopleFields {
		for _, p := range stringList(rec.Payload[f]) {
			if p == "" || who.matches(p) || seen[p] {
				continue
			}
			seen[p] = true
			ctx.People = append(ctx.People, p)
		}
	}
	for _, sf := range scopeFields {
		if n, ok := number(rec.Payload[sf.field]); ok && n > 0 {
			ctx.Scope = append(ctx.Scope, fmt.Sprintf("%d %s", n, sf.unit))
		}
	}
	if n := len(stringList(rec.Payload["attendees"])); n > 0 {
		ctx.Scope = append(ctx.Scope, fmt.Sprintf("%d attendees", n))
	}
	return ctx
}

// KnownContext summarizes facts derivable from activity data so interview
// questions do not ask for them again.
type KnownContext struct {
	ActivityCount int      `json:"activity_count"`
	From          string   `json:"from,omitempty"`
	To            string   `json:"to,omitempty"`
	Collaborators []string `json:"collaborators,omitempty"`
	Tools         []string `json:"tools,omitempty"`
	Labels        []string `json:"labels,omitempty"`
	Scope         []string `json:"scope,omitempty"`
	Skills        []string `json:"skills,omitempty"`
}

// Known aggregates the ranked activities into a KnownContext.
func (r RankedActivities) Known() KnownContext {
	k := KnownContext{ActivityCount: len(r.Contexts), Skills: r.Skills}
	people := newOrderedSet()
	tools := newOrderedSet()
	labels := newOrderedSet()
	for _, c := range r.Contexts {
		if c.Date != "" {
			if k.From == "" || c.Date < k.From {
				k.From = c.Date
			}
			if c.Date > k.To {
				k.To = c.Date
			}
		}
		people.add(c.People...)
		tools.add(c.Source)
		labels.add(c.Labels...)
		k.Scope = append(k.Scope, c.Scope...)
	}
	k.Collaborators = people.items
	k.Tools = tools.items
	k.Labels = labels.items
	if len(k.Scope) > 8 {
		k.Scope = k.Scope[:8]
	}
	return k
}

// Summary renders the known context as a compact paragraph for prompts.
func (k KnownContext) Summary() string {
	if k.ActivityCount == 0 {
		return "No linked tool activity."
	}
	var parts []string
	parts = append(parts, fmt.Sprintf("%d linked activities", k.ActivityCount))
	if k.From != "" {
		if k.From == k.To {
			parts = append(parts, "on "+k.From)
		} else {
			parts = append(parts, fmt.Sprintf("from %s to %s", k.From, k.To))
		}
	}
	if len(k.Tools) > 0 {
		parts = append(parts, "tools: "+strings.Join(k.Tools, ", "))
	}
	if len(k.Collaborators) > 0 {
		parts = append(parts, "collaborators: "+strings.Join(k.Collaborators, ", "))
	}
	if len(k.Labels) > 0 {
		parts = append(parts, "labels: "+strings.Join(k.Labels, ", "))
	}
	if len(k.Scope) > 0 {
		parts = append(parts, "scope: "+strings.Join(k.Scope, "; "))
	}
	if len(k.Skills) > 0 {
		parts = append(parts, "previously detected skills: "+strings.Join(k.Skills, ", "))
	}
	return strings.Join(parts, ". ") + "."
}

type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet { return &orderedSet{seen: map[string]bool{}} }

func (s *orderedSet) add(vs ...string) {
	for _, v := range vs {
		if v == "" || s.seen[v] {
			continue
		}
		s.seen[v] = true
		s.items = append(s.items, v)
	}
}

func parseTime(v string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// stringList reads a payload value that may be a string, a list of strings,
// or a list of objects carrying a login/name/email.
func stringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, stringList(item)...)
		}
		return out
	case map[string]any:
		for _, k := range []string{"login", "name", "email", "id"} {
			if s, ok := t[k].(string); ok && s != "" {
				return []string{s}
			}
		}
	}
	return nil
}

func number(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	}
	return 0, false
}
