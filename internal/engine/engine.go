package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"careerline/internal/config"
	"careerline/internal/domain"
	"careerline/internal/events"
	"careerline/internal/metrics"
	"careerline/internal/provider"
	"careerline/internal/repo"
	"careerline/internal/story"
)

var (
	// ErrEntryNotFound covers both a missing entry and one owned by another
	// user.
	ErrEntryNotFound = fmt.Errorf("entry %w", repo.ErrNotFound)
	ErrStoryNotFound = fmt.Errorf("story %w", repo.ErrNotFound)
	// ErrInsufficientContent rejects entries too short to promote.
	ErrInsufficientContent = errors.New("insufficient content")
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	// Provider is optional; nil runs the local fallbacks only.
	Provider provider.Provider
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{Now: time.Now},
		Config: cfg,
		Logger: zap.NewNop(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e Engine) cfg() *config.Config {
	if e.Config == nil {
		return config.Default()
	}
	return e.Config
}

func (e Engine) stage(name string) func() {
	start := time.Now()
	return func() { e.Metrics.ObserveStage(name, time.Since(start)) }
}

func (e Engine) entry(ctx context.Context, entryID, userID string) (domain.JournalEntry, error) {
	entry, err := e.Repo.GetEntryForOwner(ctx, entryID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return entry, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	if err != nil {
		return entry, fmt.Errorf("load entry: %w", err)
	}
	return entry, nil
}

func (e Engine) identity(userID string) story.Identity {
	return story.Identity{UserID: userID, Handles: e.cfg().Identities[userID]}
}

// rank fetches the entry's activities and orders them for prompting. A
// failed fetch degrades to no activities; only cancellation is returned.
func (e Engine) rank(ctx context.Context, entry domain.JournalEntry, userID string) (story.RankedActivities, error) {
	defer e.stage("rank")()
	records, err := e.Repo.GetActivities(ctx, entry.ActivityIDs)
	if err != nil {
		if ctx.Err() != nil {
			return story.RankedActivities{}, ctx.Err()
		}
		e.log().Warn("activity fetch failed; continuing without activities",
			zap.String("entry_id", entry.ID), zap.Error(err))
		records = nil
	}
	rk := story.Ranker{Max: e.cfg().Promotion.MaxActivities}
	return rk.Rank(entry.ActivityIDs, records, e.identity(userID), entry.Enrichment), nil
}

// AnalyzeInput starts a promotion.
type AnalyzeInput struct {
	EntryID string
	UserID  string
	// Mode is "full" or "quick"; empty uses the configured mode.
	Mode string
}

type Alternative struct {
	Archetype  story.Archetype `json:"archetype"`
	Confidence float64         `json:"confidence"`
}

type ArchetypeResult struct {
	Detected     story.Archetype `json:"detected"`
	Confidence   float64         `json:"confidence"`
	Reasoning    string          `json:"reasoning"`
	Alternatives []Alternative   `json:"alternatives"`
}

type EntrySummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type AnalyzeResult struct {
	Archetype    ArchetypeResult        `json:"archetype"`
	Questions    []story.WizardQuestion `json:"questions"`
	JournalEntry EntrySummary           `json:"journalEntry"`
}

// Analyze detects the entry's archetype and returns the interview. No state
// is kept between Analyze and Generate.
func (e Engine) Analyze(ctx context.Context, in AnalyzeInput) (AnalyzeResult, error) {
	defer e.stage("analyze")()
	modeValue := in.Mode
	if modeValue == "" {
		modeValue = e.cfg().Promotion.QuestionMode
	}
	mode, err := story.ParseMode(modeValue)
	if err != nil {
		return AnalyzeResult{}, err
	}
	entry, err := e.entry(ctx, in.EntryID, in.UserID)
	if err != nil {
		return AnalyzeResult{}, err
	}
	if n, need := contentLength(entry), e.cfg().Promotion.MinContentLength; n < need {
		return AnalyzeResult{}, fmt.Errorf("%w: entry has %d characters, need at least %d", ErrInsufficientContent, n, need)
	}

	detection := story.DetectArchetype(entry.Text(), entry.Enrichment)
	ranked, err := e.rank(ctx, entry, in.UserID)
	if err != nil {
		return AnalyzeResult{}, err
	}
	qg := story.QuestionGenerator{Provider: e.Provider, Timeout: e.cfg().ProviderTimeout(), Logger: e.log()}
	done := e.stage("questions")
	questions, origin := qg.Generate(ctx, story.QuestionInput{
		Archetype: detection.Primary.Archetype,
		EntryText: entry.Text(),
		Signals:   detection.Signals,
		Known:     ranked.Known(),
		Mode:      mode,
	})
	done()
	if origin == story.OriginFallback {
		e.Metrics.Fallback("questions")
	}

	alts := make([]Alternative, 0, len(detection.Alternatives))
	for _, a := range detection.Alternatives {
		alts = append(alts, Alternative{Archetype: a.Archetype, Confidence: a.Confidence})
	}
	e.log().Info("entry analyzed",
		zap.String("entry_id", entry.ID),
		zap.String("archetype", string(detection.Primary.Archetype)),
		zap.Float64("confidence", detection.Primary.Confidence),
		zap.String("questions", string(origin)))
	return AnalyzeResult{
		Archetype: ArchetypeResult{
			Detected:     detection.Primary.Archetype,
			Confidence:   detection.Primary.Confidence,
			Reasoning:    detection.Primary.Reasoning,
			Alternatives: alts,
		},
		Questions:    questions,
		JournalEntry: EntrySummary{ID: entry.ID, Title: entry.Title},
	}, nil
}

func contentLength(entry domain.JournalEntry) int {
	return utf8.RuneCountInString(strings.TrimSpace(entry.Title) + strings.TrimSpace(entry.Description) + strings.TrimSpace(entry.Body))
}

// GenerateInput carries everything the caller re-supplies after the
// interview.
type GenerateInput struct {
	EntryID   string
	UserID    string
	Archetype string
	Framework string
	Answers   map[string]story.WizardAnswer
}

type GenerateResult struct {
	Story      domain.CareerStory   `json:"story"`
	Sources    []domain.StorySource `json:"sources"`
	Evaluation story.Evaluation     `json:"evaluation"`
}

// Generate builds, scores and persists a career story. Provider failures
// are absorbed by the fallbacks; every call creates a new story.
func (e Engine) Generate(ctx context.Context, in GenerateInput) (GenerateResult, error) {
	defer e.stage("generate")()
	archetype, err := story.ParseArchetype(in.Archetype)
	if err != nil {
		return GenerateResult{}, err
	}
	framework, err := story.ParseFramework(in.Framework)
	if err != nil {
		return GenerateResult{}, err
	}
	entry, err := e.entry(ctx, in.EntryID, in.UserID)
	if err != nil {
		return GenerateResult{}, err
	}

	var (
		ranked    story.RankedActivities
		extracted story.ExtractedContext
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ranked, err = e.rank(gctx, entry, in.UserID)
		return err
	})
	g.Go(func() error {
		defer e.stage("extract")()
		extracted = story.ExtractContext(in.Answers)
		return nil
	})
	if err := g.Wait(); err != nil {
		return GenerateResult{}, err
	}

	ng := story.NarrativeGenerator{Provider: e.Provider, Timeout: e.cfg().ProviderTimeout(), Logger: e.log()}
	done := e.stage("narrative")
	narrative := ng.Generate(ctx, story.NarrativeInput{
		Entry:      entry,
		Archetype:  archetype,
		Framework:  framework,
		Context:    extracted,
		Activities: ranked.Contexts,
	})
	done()
	if narrative.Origin == story.OriginFallback {
		e.Metrics.Fallback("narrative")
	}

	binding := story.Bind(story.BindInput{
		SectionKeys:      framework.Sections(),
		Sections:         narrative.Sections,
		Records:          ranked.Records,
		Order:            ranked.IDs(),
		EntryActivityIDs: entry.ActivityIDs,
		Context:          extracted,
		Answers:          in.Answers,
	})
	e.Metrics.EvidenceStrategy(binding.Strategy)
	evaluation := story.Evaluate(binding.Sections, extracted)

	answers := make(map[string]any, len(in.Answers))
	for id, a := range in.Answers {
		answers[id] = a
	}
	cs := domain.CareerStory{
		ID:            uuid.NewString(),
		UserID:        in.UserID,
		EntryID:       entry.ID,
		Title:         narrative.Title,
		Hook:          narrative.Hook,
		Framework:     string(framework),
		Archetype:     string(archetype),
		Category:      entry.Category,
		Description:   narrative.Description,
		FullContent:   narrative.FullContent,
		Sections:      binding.Sections,
		WizardAnswers: answers,
		Score:         evaluation.Score,
		GeneratedBy:   string(narrative.Origin),
		CreatedAt:     e.now().UTC().Format(time.RFC3339),
	}
	sources := binding.Sources
	if sources == nil {
		sources = []domain.StorySource{}
	}
	for i := range sources {
		sources[i].ID = uuid.NewString()
		sources[i].StoryID = cs.ID
	}
	if err := e.persist(ctx, cs, sources, binding.Strategy); err != nil {
		return GenerateResult{}, err
	}
	e.Metrics.StoryPromoted(cs.Framework, cs.Archetype)
	e.log().Info("story promoted",
		zap.String("story_id", cs.ID),
		zap.String("entry_id", entry.ID),
		zap.String("framework", cs.Framework),
		zap.String("archetype", cs.Archetype),
		zap.String("generated_by", cs.GeneratedBy),
		zap.String("evidence", binding.Strategy),
		zap.Int("sources", len(sources)),
		zap.Float64("score", cs.Score))
	return GenerateResult{Story: cs, Sources: sources, Evaluation: evaluation}, nil
}

// persist writes the story header, its sources and the promotion event in
// one transaction.
func (e Engine) persist(ctx context.Context, cs domain.CareerStory, sources []domain.StorySource, strategy string) error {
	defer e.stage("persist")()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertStoryTx(ctx, tx, cs); err != nil {
		return fmt.Errorf("insert story: %w", err)
	}
	for _, src := range sources {
		if err := e.Repo.InsertSourceTx(ctx, tx, src); err != nil {
			return fmt.Errorf("insert story source: %w", err)
		}
	}
	if err := e.Events.Append(ctx, tx, events.StoryPromoted, "career_story", cs.ID, cs.UserID, events.EventPayload{
		"entry_id":     cs.EntryID,
		"framework":    cs.Framework,
		"archetype":    cs.Archetype,
		"score":        cs.Score,
		"generated_by": cs.GeneratedBy,
		"evidence":     strategy,
		"sources":      len(sources),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// StoryDetail is a persisted story with its evidence trail.
type StoryDetail struct {
	Story   domain.CareerStory   `json:"story"`
	Sources []domain.StorySource `json:"sources"`
}

func (e Engine) GetStory(ctx context.Context, storyID, userID string) (StoryDetail, error) {
	cs, err := e.Repo.GetStoryForOwner(ctx, storyID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return StoryDetail{}, fmt.Errorf("%w: %s", ErrStoryNotFound, storyID)
	}
	if err != nil {
		return StoryDetail{}, err
	}
	sources, err := e.Repo.ListSources(ctx, cs.ID)
	if err != nil {
		return StoryDetail{}, err
	}
	return StoryDetail{Story: cs, Sources: sources}, nil
}

func (e Engine) ListSources(ctx context.Context, storyID, userID string) ([]domain.StorySource, error) {
	detail, err := e.GetStory(ctx, storyID, userID)
	if err != nil {
		return nil, err
	}
	return detail.Sources, nil
}

// ListStories returns the user's stories, newest first.
func (e Engine) ListStories(ctx context.Context, f repo.StoryFilters) ([]domain.CareerStory, error) {
	if f.UserID == "" {
		return nil, errors.New("user is required")
	}
	if f.Framework != "" {
		fw, err := story.ParseFramework(f.Framework)
		if err != nil {
			return nil, err
		}
		f.Framework = string(fw)
	}
	stories, err := e.Repo.ListStories(ctx, f)
	if err != nil {
		return nil, err
	}
	if stories == nil {
		stories = []domain.CareerStory{}
	}
	return stories, nil
}

func (e Engine) ListEntries(ctx context.Context, userID string, limit int) ([]domain.JournalEntry, error) {
	entries, err := e.Repo.ListEntries(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.JournalEntry{}
	}
	return entries, nil
}
