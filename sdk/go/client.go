package careerlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal careerline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// DevUserID is sent as X-User-Id when no token is set. The server only
	// honors it with allow_dev_user_header.
	DevUserID  string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: bearerToken,
		Timeout:     60 * time.Second,
	}
}

// Question is one interview question.
type Question struct {
	ID            string   `json:"id"`
	Phase         string   `json:"phase"`
	Question      string   `json:"question"`
	Hint          string   `json:"hint,omitempty"`
	Options       []string `json:"options,omitempty"`
	AllowFreeText bool     `json:"allowFreeText"`
}

// Analysis is the analyze response.
type Analysis struct {
	Archetype struct {
		Detected     string  `json:"detected"`
		Confidence   float64 `json:"confidence"`
		Reasoning    string  `json:"reasoning"`
		Alternatives []struct {
			Archetype  string  `json:"archetype"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"archetype"`
	Questions    []Question `json:"questions"`
	JournalEntry struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"journalEntry"`
}

// Answer answers one question; keys of the answers map are question ids.
type Answer struct {
	Selected []string `json:"selected,omitempty"`
	FreeText string   `json:"freeText,omitempty"`
}

// Section is one framework section of a story.
type Section struct {
	Summary  string `json:"summary"`
	Evidence []struct {
		ActivityID  string `json:"activityId,omitempty"`
		Description string `json:"description,omitempty"`
	} `json:"evidence"`
}

// Story represents the API career story model (partial).
type Story struct {
	ID          string             `json:"id"`
	EntryID     string             `json:"entry_id"`
	Title       string             `json:"title"`
	Hook        string             `json:"hook"`
	Framework   string             `json:"framework"`
	Archetype   string             `json:"archetype"`
	Sections    map[string]Section `json:"sections"`
	Score       float64            `json:"score"`
	GeneratedBy string             `json:"generated_by"`
	CreatedAt   string             `json:"created_at"`
}

// Source is one evidence row behind a story.
type Source struct {
	ID         string  `json:"id"`
	SectionKey string  `json:"section_key"`
	SourceType string  `json:"source_type"`
	ActivityID *string `json:"activity_id,omitempty"`
	Label      string  `json:"label"`
	URL        string  `json:"url,omitempty"`
	Role       string  `json:"role,omitempty"`
	Annotation string  `json:"annotation,omitempty"`
	SortOrder  int     `json:"sort_order"`
}

// Evaluation scores a generated story.
type Evaluation struct {
	Score        float64  `json:"score"`
	Suggestions  []string `json:"suggestions"`
	CoachComment string   `json:"coachComment"`
}

// Generated is the generate response.
type Generated struct {
	Story      Story      `json:"story"`
	Sources    []Source   `json:"sources"`
	Evaluation Evaluation `json:"evaluation"`
}

// StoryDetail is a saved story with its sources.
type StoryDetail struct {
	Story   Story    `json:"story"`
	Sources []Source `json:"sources"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// Analyze detects the entry's archetype and returns interview questions.
// mode is "full", "quick" or empty for the server default.
func (c *Client) Analyze(ctx context.Context, entryID, mode string) (Analysis, error) {
	body := map[string]any{}
	if mode != "" {
		body["mode"] = mode
	}
	var resp Analysis
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/entries/%s/analyze", url.PathEscape(entryID)), body, &resp)
	return resp, err
}

// Generate builds and saves a story. Every call creates a new story.
func (c *Client) Generate(ctx context.Context, entryID, archetype, framework string, answers map[string]Answer) (Generated, error) {
	body := map[string]any{
		"archetype": archetype,
		"framework": framework,
		"answers":   answers,
	}
	var resp Generated
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/entries/%s/stories", url.PathEscape(entryID)), body, &resp)
	return resp, err
}

// GetStory fetches a story with its sources.
func (c *Client) GetStory(ctx context.Context, storyID string) (StoryDetail, error) {
	var resp StoryDetail
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/stories/%s", url.PathEscape(storyID)), nil, &resp)
	return resp, err
}

// ListStories returns the caller's stories, optionally for one entry.
func (c *Client) ListStories(ctx context.Context, entryID string, limit int) ([]Story, error) {
	q := url.Values{}
	if entryID != "" {
		q.Set("entry_id", entryID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "v0/stories"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Story `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.DevUserID != "":
		req.Header.Set("X-User-Id", c.DevUserID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
