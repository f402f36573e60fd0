package story

import (
	"strings"

	"careerline/internal/domain"
)

// Evidence roles detected from activity payloads.
const (
	RoleAuthored  = "authored"
	RoleApproved  = "approved"
	RoleReviewed  = "reviewed"
	RoleAssigned  = "assigned"
	RoleReported  = "reported"
	RoleMentioned = "mentioned"
)

// Binding strategies, recorded for logs and metrics.
const (
	StrategyDirect        = "direct"
	StrategyRedistributed = "redistributed"
	StrategySkeleton      = "skeleton"
	StrategyNone          = "none"
)

// DetectRole infers the user's role on an activity. The first matching rule
// wins: author, approval marker, reviewers, assignee, reporter.
func DetectRole(payload map[string]any) string {
	switch {
	case len(stringList(payload["author"])) > 0:
		return RoleAuthored
	case hasApproval(payload):
		return RoleApproved
	case len(stringList(payload["reviewers"])) > 0:
		return RoleReviewed
	case len(stringList(payload["assignee"])) > 0:
		return RoleAssigned
	case len(stringList(payload["reporter"])) > 0:
		return RoleReported
	}
	return RoleMentioned
}

func hasApproval(payload map[string]any) bool {
	if b, ok := payload["approved"].(bool); ok && b {
		return true
	}
	for _, k := range []string{"state", "review_state", "review_decision"} {
		if s, ok := payload[k].(string); ok && strings.EqualFold(s, "approved") {
			return true
		}
	}
	return false
}

// Assignment places one activity in one section.
type Assignment struct {
	SectionKey string
	ActivityID string
	// First marks the first item of its section bucket.
	First bool
}

// Distribute spreads ids across section keys in contiguous buckets of
// ceil(len(ids)/len(keys)). When there are fewer ids than sections, the
// remaining sections reuse ids round-robin so every section gets at least one.
func Distribute(keys, ids []string) []Assignment {
	if len(keys) == 0 || len(ids) == 0 {
		return nil
	}
	bucket := (len(ids) + len(keys) - 1) / len(keys)
	if bucket < 1 {
		bucket = 1
	}
	var out []Assignment
	for j, key := range keys {
		start := j * bucket
		if start >= len(ids) {
			out = append(out, Assignment{SectionKey: key, ActivityID: ids[j%len(ids)], First: true})
			continue
		}
		end := start + bucket
		if end > len(ids) {
			end = len(ids)
		}
		for i, id := range ids[start:end] {
			out = append(out, Assignment{SectionKey: key, ActivityID: id, First: i == 0})
		}
	}
	return out
}

// BindInput is what evidence reconciliation works from.
type BindInput struct {
	SectionKeys []string
	Sections    map[string]domain.StorySection
	// Records are the fetched activities, already limited to the entry's set.
	Records map[string]domain.ActivityRecord
	// Order is the ranked id order used when redistributing.
	Order            []string
	EntryActivityIDs []string
	Context          ExtractedContext
	// Answers, when set, yield one interview row per non-empty answer.
	// Without them rows are built from Context.
	Answers map[string]WizardAnswer
}

// Binding is the reconciled evidence trail.
type Binding struct {
	Sources  []domain.StorySource
	Sections map[string]domain.StorySection
	Strategy string
}

// Bind reconciles narrative evidence with real activity ids and appends one
// row per non-empty interview answer. Rows carry no ids; the caller assigns
// them when persisting.
func Bind(in BindInput) Binding {
	b := binder{in: in, bySection: map[string][]domain.StorySource{}}
	strategy := StrategyNone

	if b.direct() > 0 {
		strategy = StrategyDirect
		b.fillGaps()
	} else if len(in.Records) > 0 {
		strategy = StrategyRedistributed
		b.redistribute()
	}
	if b.activityRows() == 0 && len(in.EntryActivityIDs) > 0 {
		strategy = StrategySkeleton
		b.skeleton()
	}

	var sources []domain.StorySource
	sections := make(map[string]domain.StorySection, len(in.SectionKeys))
	for _, key := range in.SectionKeys {
		sec := in.Sections[key]
		sec.Evidence = []domain.EvidenceRef{}
		for _, row := range b.bySection[key] {
			row.SortOrder = len(sources)
			sources = append(sources, row)
			sec.Evidence = append(sec.Evidence, domain.EvidenceRef{ActivityID: *row.ActivityID, Description: row.Annotation})
		}
		sections[key] = sec
	}
	for _, row := range answerRows(in.SectionKeys, in.Context, in.Answers) {
		row.SortOrder = len(sources)
		sources = append(sources, row)
	}
	return Binding{Sources: sources, Sections: sections, Strategy: strategy}
}

type binder struct {
	in        BindInput
	bySection map[string][]domain.StorySource
}

func (b *binder) activityRows() int {
	n := 0
	for _, rows := range b.bySection {
		n += len(rows)
	}
	return n
}

func (b *binder) add(key, activityID, annotation string) {
	for _, r := range b.bySection[key] {
		if *r.ActivityID == activityID {
			return
		}
	}
	id := activityID
	row := domain.StorySource{
		SectionKey: key,
		SourceType: domain.SourceActivity,
		ActivityID: &id,
		Annotation: annotation,
	}
	if rec, ok := b.in.Records[activityID]; ok {
		row.Label = rec.Title
		row.URL = rec.URL
		row.Role = DetectRole(rec.Payload)
	}
	b.bySection[key] = append(b.bySection[key], row)
}

func (b *binder) direct() int {
	n := 0
	for _, key := range b.in.SectionKeys {
		for _, ev := range b.in.Sections[key].Evidence {
			if _, ok := b.in.Records[ev.ActivityID]; ok {
				b.add(key, ev.ActivityID, ev.Description)
				n++
			}
		}
	}
	return n
}

func (b *binder) orderedIDs() []string {
	var ids []string
	seen := map[string]bool{}
	for _, id := range b.in.Order {
		if _, ok := b.in.Records[id]; ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	// records missing from Order still count, in entry order
	for _, id := range b.in.EntryActivityIDs {
		if _, ok := b.in.Records[id]; ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func (b *binder) redistribute() {
	for _, as := range Distribute(b.in.SectionKeys, b.orderedIDs()) {
		note := ""
		if as.First {
			note = sectionNote(b.in.Sections[as.SectionKey])
		}
		b.add(as.SectionKey, as.ActivityID, note)
	}
}

// fillGaps gives every section left without activity rows its bucket.
func (b *binder) fillGaps() {
	empty := map[string]bool{}
	for _, key := range b.in.SectionKeys {
		if len(b.bySection[key]) == 0 {
			empty[key] = true
		}
	}
	if len(empty) == 0 {
		return
	}
	for _, as := range Distribute(b.in.SectionKeys, b.orderedIDs()) {
		if empty[as.SectionKey] {
			b.add(as.SectionKey, as.ActivityID, "")
		}
	}
}

func (b *binder) skeleton() {
	seen := map[string]bool{}
	var ids []string
	for _, id := range b.in.EntryActivityIDs {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, as := range Distribute(b.in.SectionKeys, ids) {
		b.add(as.SectionKey, as.ActivityID, "")
	}
}

func sectionNote(sec domain.StorySection) string {
	for _, ev := range sec.Evidence {
		if ev.Description != "" {
			return ev.Description
		}
	}
	return ""
}

type answerTargets struct {
	first, action, obstacle, result, learning string
}

func targetsFor(keys []string) answerTargets {
	first := keys[0]
	result := firstNonEmpty(sectionFor(keys, roleResult), keys[len(keys)-1])
	return answerTargets{
		first:    first,
		action:   firstNonEmpty(sectionFor(keys, roleAction), first),
		obstacle: firstNonEmpty(sectionFor(keys, roleObstacle), first),
		result:   result,
		learning: firstNonEmpty(sectionFor(keys, roleLearning), result),
	}
}

// route picks the section and label for an answer by its phase and slot.
func (t answerTargets) route(p Phase, slot int) (key, label string) {
	switch p {
	case PhaseDig:
		switch slot {
		case 1:
			return t.first, "Interview: the real story"
		case 2:
			return t.action, "Interview: key decision"
		case 3:
			return t.obstacle, "Interview: obstacle"
		}
		return t.first, "Interview: detail"
	case PhaseImpact:
		switch slot {
		case 1:
			return t.result, "Interview: what would have happened otherwise"
		case 2:
			return t.result, "Interview: measured impact"
		}
		return t.result, "Interview: impact"
	case PhaseGrowth:
		return t.learning, "Interview: learning"
	}
	return t.first, "Interview"
}

func answerRows(keys []string, c ExtractedContext, answers map[string]WizardAnswer) []domain.StorySource {
	if len(keys) == 0 {
		return nil
	}
	t := targetsFor(keys)
	type item struct {
		key, label, text string
	}
	var items []item
	if len(answers) > 0 {
		for _, a := range routeAnswers(answers) {
			key, label := t.route(a.phase, a.slot)
			items = append(items, item{key, label, a.text})
		}
	} else {
		for _, f := range []struct {
			p    Phase
			slot int
			text string
		}{
			{PhaseDig, 1, c.RealStory},
			{PhaseDig, 2, c.KeyDecision},
			{PhaseDig, 3, c.Obstacle},
			{PhaseImpact, 1, c.Counterfactual},
			{PhaseImpact, 2, c.Metric},
			{PhaseGrowth, 1, c.Learning},
		} {
			key, label := t.route(f.p, f.slot)
			items = append(items, item{key, label, f.text})
		}
	}
	var out []domain.StorySource
	for _, it := range items {
		if strings.TrimSpace(it.text) == "" {
			continue
		}
		out = append(out, domain.StorySource{
			SectionKey: it.key,
			SourceType: domain.SourceWizardAnswer,
			Label:      it.label,
			Annotation: it.text,
		})
	}
	return out
}
