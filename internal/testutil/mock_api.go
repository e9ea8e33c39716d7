// Package testutil provides a mock YouTube search and Gemini server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockVideo is a search result served by the mock.
type MockVideo struct {
	ID          string
	Title       string
	PublishedAt string
}

// MockResponse defines an error or canned response for a mock endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockAPI is a configurable mock of the YouTube Data API search endpoint and
// the Gemini generateContent endpoint.
type MockAPI struct {
	server *httptest.Server
	mu     sync.RWMutex

	videos        map[string][]MockVideo  // by query
	searchErrors  map[string]MockResponse // by query
	analyses      map[string]string       // response text by video URI
	analyzeErrors map[string]MockResponse // by video URI
	throttleLeft  int

	// Tracking
	SearchCount   int
	GenerateCount int
	LastGenerate  GenerateRequest
}

// GenerateRequest is the subset of a generateContent request the mock records.
type GenerateRequest struct {
	Model             string
	FileURI           string
	MIMEType          string
	Text              string
	SystemInstruction string
	ResponseMIMEType  string
}

// NewMockAPI creates and starts a mock server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		videos:        make(map[string][]MockVideo),
		searchErrors:  make(map[string]MockResponse),
		analyses:      make(map[string]string),
		analyzeErrors: make(map[string]MockResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/search"):
			mock.handleSearch(w, r)
		case strings.HasSuffix(r.URL.Path, ":generateContent"):
			mock.handleGenerate(w, r)
		default:
			http.NotFound(w, r)
		}
	}))

	return mock
}

// URL returns the mock server URL with a trailing slash.
func (m *MockAPI) URL() string {
	return m.server.URL + "/"
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SearchCount = 0
	m.GenerateCount = 0
	m.LastGenerate = GenerateRequest{}
}

// SetVideos configures the search results for a query.
func (m *MockAPI) SetVideos(query string, videos ...MockVideo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos[query] = videos
}

// SetSearchError makes every search for query fail with resp.
func (m *MockAPI) SetSearchError(query string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchErrors[query] = resp
}

// SetAnalysis configures the model response text for a video URI.
func (m *MockAPI) SetAnalysis(uri, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyses[uri] = text
}

// SetAnalyzeError makes every generate call for uri fail with resp.
func (m *MockAPI) SetAnalyzeError(uri string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyzeErrors[uri] = resp
}

// ThrottleGenerate makes the next n generate calls fail with a 429.
func (m *MockAPI) ThrottleGenerate(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttleLeft = n
}

// GetSearchCount returns the number of search requests served.
func (m *MockAPI) GetSearchCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.SearchCount
}

// GetGenerateCount returns the number of generate requests served.
func (m *MockAPI) GetGenerateCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.GenerateCount
}

// GetLastGenerate returns the most recent generate request.
func (m *MockAPI) GetLastGenerate() GenerateRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastGenerate
}

func (m *MockAPI) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")

	m.mu.Lock()
	m.SearchCount++
	errResp, failing := m.searchErrors[query]
	videos := m.videos[query]
	m.mu.Unlock()

	if failing {
		writeResponse(w, errResp)
		return
	}

	pageSize, err := strconv.Atoi(q.Get("maxResults"))
	if err != nil || pageSize <= 0 {
		pageSize = 5
	}
	start := 0
	if tok := q.Get("pageToken"); tok != "" {
		start, err = strconv.Atoi(strings.TrimPrefix(tok, "p"))
		if err != nil {
			writeResponse(w, NewYouTubeErrorResponse(http.StatusBadRequest, "invalidPageToken"))
			return
		}
	}

	end := min(start+pageSize, len(videos))
	type searchItem struct {
		ID struct {
			Kind    string `json:"kind"`
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title       string `json:"title"`
			PublishedAt string `json:"publishedAt"`
		} `json:"snippet"`
	}
	body := struct {
		Kind          string       `json:"kind"`
		NextPageToken string       `json:"nextPageToken,omitempty"`
		Items         []searchItem `json:"items"`
	}{Kind: "youtube#searchListResponse", Items: []searchItem{}}

	for _, v := range videos[min(start, end):end] {
		var item searchItem
		item.ID.Kind = "youtube#video"
		item.ID.VideoID = v.ID
		item.Snippet.Title = v.Title
		item.Snippet.PublishedAt = v.PublishedAt
		body.Items = append(body.Items, item)
	}
	if end < len(videos) {
		body.NextPageToken = fmt.Sprintf("p%d", end)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(body)
}

func (m *MockAPI) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Contents []struct {
			Parts []struct {
				Text     string `json:"text"`
				FileData *struct {
					FileURI  string `json:"fileUri"`
					MIMEType string `json:"mimeType"`
				} `json:"fileData"`
			} `json:"parts"`
		} `json:"contents"`
		SystemInstruction *struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"systemInstruction"`
		GenerationConfig *struct {
			ResponseMIMEType string `json:"responseMimeType"`
		} `json:"generationConfig"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeResponse(w, NewGeminiErrorResponse(http.StatusBadRequest, "INVALID_ARGUMENT"))
		return
	}

	req := GenerateRequest{Model: modelFromPath(r.URL.Path)}
	for _, c := range body.Contents {
		for _, p := range c.Parts {
			if p.FileData != nil {
				req.FileURI = p.FileData.FileURI
				req.MIMEType = p.FileData.MIMEType
			}
			req.Text += p.Text
		}
	}
	if body.SystemInstruction != nil {
		for _, p := range body.SystemInstruction.Parts {
			req.SystemInstruction += p.Text
		}
	}
	if body.GenerationConfig != nil {
		req.ResponseMIMEType = body.GenerationConfig.ResponseMIMEType
	}

	m.mu.Lock()
	m.GenerateCount++
	m.LastGenerate = req
	throttled := m.throttleLeft > 0
	if throttled {
		m.throttleLeft--
	}
	errResp, failing := m.analyzeErrors[req.FileURI]
	text, ok := m.analyses[req.FileURI]
	m.mu.Unlock()

	switch {
	case throttled:
		writeResponse(w, NewGeminiErrorResponse(http.StatusTooManyRequests, "RESOURCE_EXHAUSTED"))
		return
	case failing:
		writeResponse(w, errResp)
		return
	case !ok:
		text = `{"topic": "General"}`
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(NewGeminiText(text))
}

// NewGeminiText builds a generateContent response body with a single text part.
func NewGeminiText(text string) map[string]any {
	return map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"parts": []any{map[string]any{"text": text}},
					"role":  "model",
				},
				"finishReason": "STOP",
			},
		},
	}
}

// NewYouTubeErrorResponse creates a Google API error response with one reason.
func NewYouTubeErrorResponse(code int, reason string) MockResponse {
	return MockResponse{
		StatusCode: code,
		Body: fmt.Sprintf(
			`{"error":{"code":%d,"message":"%s","errors":[{"message":"%s","domain":"youtube.quota","reason":"%s"}]}}`,
			code, reason, reason, reason),
	}
}

// NewGeminiErrorResponse creates a Gemini API error response.
func NewGeminiErrorResponse(code int, status string) MockResponse {
	return MockResponse{
		StatusCode: code,
		Body:       fmt.Sprintf(`{"error":{"code":%d,"message":"%s","status":"%s"}}`, code, status, status),
	}
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// modelFromPath extracts "<model>" from ".../models/<model>:generateContent".
func modelFromPath(path string) string {
	i := strings.LastIndex(path, "/models/")
	if i < 0 {
		return ""
	}
	return strings.TrimSuffix(path[i+len("/models/"):], ":generateContent")
}
