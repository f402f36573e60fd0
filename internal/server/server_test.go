package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"

	"careerline/internal/config"
	"careerline/internal/db"
	"careerline/internal/domain"
	"careerline/internal/engine"
	"careerline/internal/metrics"
	"careerline/internal/migrate"
	careerlinesdk "careerline/sdk/go"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg := prometheus.NewRegistry()
	e := engine.New(conn, config.Default())
	e.Metrics = metrics.MustNew(reg)
	body := "Our nightly batch kept failing after the storage migration. I traced the root cause to a stale index, " +
		"rebuilt it with Priya and documented the runbook."
	fixture := engine.Fixture{
		Activities: []domain.ActivityRecord{
			{ID: "pr-1", Source: "github", Title: "Rebuild stale index", Timestamp: "2024-05-01T10:00:00Z",
				Payload: map[string]any{"author": "alice"}},
			{ID: "doc-2", Source: "confluence", Title: "Batch runbook", Timestamp: "2024-05-02T10:00:00Z",
				Payload: map[string]any{"reviewers": []any{"alice"}}},
		},
		Entries: []domain.JournalEntry{
			{ID: "entry-1", UserID: "alice", Title: "Fixed the nightly batch", Body: body, ActivityIDs: []string{"pr-1", "doc-2"}},
			{ID: "entry-short", UserID: "alice", Title: "Tiny"},
			{ID: "entry-bob", UserID: "bob", Title: "Bob's entry", Body: body},
		},
	}
	if _, err := e.Import(context.Background(), fixture, "alice"); err != nil {
		t.Fatalf("seed fixture: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowDevUserHeader: true},
		Gatherer: reg,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func signToken(t *testing.T, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

var alice = map[string]string{DevUserHeader: "alice"}

func TestAnalyzeAndGenerateFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/entries/entry-1/analyze", map[string]any{"mode": "quick"}, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("analyze status %d: %s", res.StatusCode, string(data))
	}
	var analysis engine.AnalyzeResult
	if err := json.Unmarshal(data, &analysis); err != nil {
		t.Fatalf("unmarshal analysis: %v", err)
	}
	if len(analysis.Questions) != 3 || analysis.JournalEntry.ID != "entry-1" {
		t.Fatalf("unexpected analysis: %+v", analysis)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/entries/entry-1/analyze", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("analyze without body status %d: %s", res.StatusCode, string(data))
	}

	a := string(analysis.Archetype.Detected)
	answers := map[string]any{
		a + "-dig-1":    map[string]any{"freeText": "The batch failed every night for two weeks"},
		a + "-impact-2": map[string]any{"freeText": "Cut reruns by 90%"},
		"garbage":       "not an answer",
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/entries/entry-1/stories", map[string]any{
		"archetype": a,
		"framework": "STAR",
		"answers":   answers,
	}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("generate status %d: %s", res.StatusCode, string(data))
	}
	var generated GenerateResponse
	if err := json.Unmarshal(data, &generated); err != nil {
		t.Fatalf("unmarshal generated: %v", err)
	}
	if len(generated.Story.Sections) != 4 || generated.Story.ID == "" {
		t.Fatalf("unexpected story: %+v", generated.Story)
	}
	if len(generated.Sources) == 0 {
		t.Fatalf("expected sources")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/stories/"+generated.Story.ID, nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get story status %d: %s", res.StatusCode, string(data))
	}
	var detail StoryResponse
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatalf("unmarshal story: %v", err)
	}
	if len(detail.Sources) != len(generated.Sources) {
		t.Fatalf("sources %d, want %d", len(detail.Sources), len(generated.Sources))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/stories/"+generated.Story.ID+"/sources", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list sources status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/stories?entry_id=entry-1", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list stories status %d: %s", res.StatusCode, string(data))
	}
	var list storyList
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list.Items) != 1 {
		t.Fatalf("expected 1 story, got %d", len(list.Items))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/stories/"+generated.Story.ID, nil, map[string]string{DevUserHeader: "bob"})
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "story_not_found" {
		t.Fatalf("foreign story status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "careerline_stories_promoted_total") {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"missing entry", http.MethodPost, "/v0/entries/nope/analyze", nil, http.StatusNotFound, "entry_not_found"},
		{"foreign entry", http.MethodPost, "/v0/entries/entry-bob/analyze", nil, http.StatusNotFound, "entry_not_found"},
		{"short entry", http.MethodPost, "/v0/entries/entry-short/analyze", nil, http.StatusBadRequest, "insufficient_content"},
		{"bad mode", http.MethodPost, "/v0/entries/entry-1/analyze", map[string]any{"mode": "long"}, http.StatusBadRequest, "bad_request"},
		{"bad archetype", http.MethodPost, "/v0/entries/entry-1/stories", map[string]any{"archetype": "wizard", "framework": "STAR"}, http.StatusBadRequest, "invalid_archetype"},
		{"bad framework", http.MethodPost, "/v0/entries/entry-1/stories", map[string]any{"archetype": "detective", "framework": "STORY"}, http.StatusBadRequest, "invalid_framework"},
		{"generate missing entry", http.MethodPost, "/v0/entries/nope/stories", map[string]any{"archetype": "detective", "framework": "STAR"}, http.StatusNotFound, "entry_not_found"},
		{"missing story", http.MethodGet, "/v0/stories/nope", nil, http.StatusNotFound, "story_not_found"},
		{"bad framework filter", http.MethodGet, "/v0/stories?framework=XYZ", nil, http.StatusBadRequest, "invalid_framework"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, data := doJSON(t, client, tc.method, srv.URL+tc.path, tc.body, alice)
			if res.StatusCode != tc.status {
				t.Fatalf("status %d, want %d: %s", res.StatusCode, tc.status, string(data))
			}
			if code := errorCode(t, data); code != tc.code {
				t.Fatalf("code %q, want %q", code, tc.code)
			}
		})
	}
}

func TestAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/stories", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("anonymous status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/stories", nil, map[string]string{"Authorization": "Bearer not-a-token"})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("bad token status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/stories", nil, map[string]string{"Authorization": "Bearer " + signToken(t, "alice")})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("jwt status %d: %s", res.StatusCode, string(data))
	}
}

func TestSDKClient(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	c := careerlinesdk.New(srv.URL, signToken(t, "alice"))

	analysis, err := c.Analyze(ctx, "entry-1", "")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(analysis.Questions) != 6 {
		t.Fatalf("expected 6 questions, got %d", len(analysis.Questions))
	}
	answers := map[string]careerlinesdk.Answer{
		analysis.Questions[0].ID: {FreeText: "Nightly jobs failed for 14 days"},
	}
	generated, err := c.Generate(ctx, "entry-1", analysis.Archetype.Detected, "CARL", answers)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for _, key := range []string{"context", "action", "result", "learning"} {
		if strings.TrimSpace(generated.Story.Sections[key].Summary) == "" {
			t.Fatalf("section %s empty", key)
		}
	}
	detail, err := c.GetStory(ctx, generated.Story.ID)
	if err != nil {
		t.Fatalf("get story: %v", err)
	}
	if detail.Story.Framework != "CARL" {
		t.Fatalf("framework %s", detail.Story.Framework)
	}
	stories, err := c.ListStories(ctx, "entry-1", 10)
	if err != nil || len(stories) != 1 {
		t.Fatalf("list stories: %v (%d)", err, len(stories))
	}

	_, err = c.Analyze(ctx, "nope", "")
	var apiErr *careerlinesdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "entry_not_found" {
		t.Fatalf("expected entry_not_found, got %v", err)
	}
}
