package server

import (
	"careerline/internal/domain"
	"careerline/internal/engine"
	"careerline/internal/story"
)

// Request payloads

type AnalyzeRequest struct {
	Mode string `json:"mode,omitempty" doc:"full (6 questions) or quick (3 questions)"`
}

type GenerateRequest struct {
	Archetype string `json:"archetype" doc:"one of firefighter, architect, diplomat, multiplier, detective, pioneer, turnaround, preventer"`
	Framework string `json:"framework" doc:"one of STAR, STARL, CAR, PAR, SAR, SOAR, SHARE, CARL"`
	// Answers are keyed by question id. Malformed answers are ignored.
	Answers map[string]any `json:"answers,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// Response payloads

type AnalyzeResponse = engine.AnalyzeResult

type GenerateResponse struct {
	Story      domain.CareerStory   `json:"story"`
	Sources    []domain.StorySource `json:"sources"`
	Evaluation story.Evaluation     `json:"evaluation"`
}

type StoryResponse struct {
	Story   domain.CareerStory   `json:"story"`
	Sources []domain.StorySource `json:"sources"`
}

type storyList struct {
	Items []domain.CareerStory `json:"items"`
}

type sourceList struct {
	Items []domain.StorySource `json:"items"`
}

func generateResponse(res engine.GenerateResult) GenerateResponse {
	return GenerateResponse{
		Story:      res.Story,
		Sources:    nonNilSlice(res.Sources),
		Evaluation: res.Evaluation,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
