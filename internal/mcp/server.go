// Package mcp exposes story promotion as MCP tools so an assistant can run
// the interview and write the story on the user's behalf.
package mcp

import (
	"context"
	"errors"
	"fmt"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"careerline/internal/domain"
	"careerline/internal/engine"
	"careerline/internal/story"
)

// Server wraps the engine for one local user.
type Server struct {
	server *gomcp.Server
	engine engine.Engine
	userID string
	logger *zap.Logger
}

// NewServer creates an MCP server acting as userID.
func NewServer(e engine.Engine, userID, version string, logger *zap.Logger) *Server {
	if version == "" {
		version = "dev"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{engine: e, userID: userID, logger: logger}
	s.server = gomcp.NewServer(&gomcp.Implementation{Name: "careerline", Version: version}, nil)
	s.registerTools()
	return s
}

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying server for tests and custom transports.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

type analyzeInput struct {
	EntryID string `json:"entry_id" jsonschema:"the journal entry to promote"`
	Mode    string `json:"mode,omitempty" jsonschema:"full (6 questions, default) or quick (3 questions)"`
}

type generateInput struct {
	EntryID   string         `json:"entry_id" jsonschema:"the journal entry to promote"`
	Archetype string         `json:"archetype" jsonschema:"story archetype, usually the one analyze_entry detected"`
	Framework string         `json:"framework" jsonschema:"STAR, STARL, CAR, PAR, SAR, SOAR, SHARE or CARL"`
	Answers   map[string]any `json:"answers,omitempty" jsonschema:"answers keyed by question id, each {selected: [...], freeText: ...}"`
}

type generateOutput struct {
	Story      domain.CareerStory   `json:"story"`
	Sources    []domain.StorySource `json:"sources"`
	Evaluation story.Evaluation     `json:"evaluation"`
}

type getStoryInput struct {
	StoryID string `json:"story_id" jsonschema:"the story id returned by generate_story"`
}

type getStoryOutput struct {
	Story   domain.CareerStory   `json:"story"`
	Sources []domain.StorySource `json:"sources"`
}

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "analyze_entry",
		Description: "Detect the story archetype of a journal entry and return the interview questions to ask the user.",
	}, s.handleAnalyze)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "generate_story",
		Description: "Turn a journal entry and the user's interview answers into a scored career story with evidence. Each call saves a new story.",
	}, s.handleGenerate)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_story",
		Description: "Fetch a saved career story with its evidence rows.",
	}, s.handleGetStory)
}

func (s *Server) handleAnalyze(ctx context.Context, _ *gomcp.CallToolRequest, input analyzeInput) (*gomcp.CallToolResult, engine.AnalyzeResult, error) {
	if input.EntryID == "" {
		return errorResult("entry_id is required"), engine.AnalyzeResult{}, nil
	}
	res, err := s.engine.Analyze(ctx, engine.AnalyzeInput{EntryID: input.EntryID, UserID: s.userID, Mode: input.Mode})
	if err != nil {
		return s.failure("analyze_entry", err), engine.AnalyzeResult{}, nil
	}
	res.Questions = nonNil(res.Questions)
	res.Archetype.Alternatives = nonNil(res.Archetype.Alternatives)
	return nil, res, nil
}

func (s *Server) handleGenerate(ctx context.Context, _ *gomcp.CallToolRequest, input generateInput) (*gomcp.CallToolResult, generateOutput, error) {
	if input.EntryID == "" {
		return errorResult("entry_id is required"), generateFailed(), nil
	}
	res, err := s.engine.Generate(ctx, engine.GenerateInput{
		EntryID:   input.EntryID,
		UserID:    s.userID,
		Archetype: input.Archetype,
		Framework: input.Framework,
		Answers:   story.AnswersFromAny(input.Answers),
	})
	if err != nil {
		return s.failure("generate_story", err), generateFailed(), nil
	}
	res.Evaluation.Suggestions = nonNil(res.Evaluation.Suggestions)
	res.Evaluation.Factors = nonNil(res.Evaluation.Factors)
	return nil, generateOutput{Story: res.Story, Sources: nonNil(res.Sources), Evaluation: res.Evaluation}, nil
}

func (s *Server) handleGetStory(ctx context.Context, _ *gomcp.CallToolRequest, input getStoryInput) (*gomcp.CallToolResult, getStoryOutput, error) {
	if input.StoryID == "" {
		return errorResult("story_id is required"), getStoryOutput{Story: emptyStory(), Sources: []domain.StorySource{}}, nil
	}
	detail, err := s.engine.GetStory(ctx, input.StoryID, s.userID)
	if err != nil {
		return s.failure("get_story", err), getStoryOutput{Story: emptyStory(), Sources: []domain.StorySource{}}, nil
	}
	return nil, getStoryOutput{Story: detail.Story, Sources: nonNil(detail.Sources)}, nil
}

// failure turns an engine error into a tool error result prefixed with the
// same codes the HTTP API uses.
func (s *Server) failure(tool string, err error) *gomcp.CallToolResult {
	var ae story.InvalidArchetypeError
	var fe story.InvalidFrameworkError
	code := "internal_error"
	switch {
	case errors.Is(err, engine.ErrEntryNotFound):
		code = "entry_not_found"
	case errors.Is(err, engine.ErrStoryNotFound):
		code = "story_not_found"
	case errors.Is(err, engine.ErrInsufficientContent):
		code = "insufficient_content"
	case errors.As(err, &ae):
		code = "invalid_archetype"
	case errors.As(err, &fe):
		code = "invalid_framework"
	default:
		s.logger.Error("mcp tool failed", zap.String("tool", tool), zap.Error(err))
	}
	return errorResult(fmt.Sprintf("%s: %s", code, err))
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// Structured output is validated against the tool's schema even for error
// results, and story sections must be an object.
func emptyStory() domain.CareerStory {
	return domain.CareerStory{Sections: map[string]domain.StorySection{}}
}

func generateFailed() generateOutput {
	return generateOutput{
		Story:      emptyStory(),
		Sources:    []domain.StorySource{},
		Evaluation: story.Evaluation{Suggestions: []string{}, Factors: []story.Factor{}},
	}
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
