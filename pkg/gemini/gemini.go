// Package gemini implements the analyzer's model port over the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Sternrassler/narrative-pipeline/pkg/analyzer"
	"github.com/Sternrassler/narrative-pipeline/pkg/invoker"
	"google.golang.org/genai"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = "gemini-2.0-flash-lite"

const statusResourceExhausted = "RESOURCE_EXHAUSTED"

// Config holds Gemini client configuration.
type Config struct {
	// APIKey is the Gemini API key (required).
	APIKey string

	// Model is the model name (default: gemini-2.0-flash-lite).
	Model string

	// BaseURL overrides the API base URL. Empty uses the public endpoint.
	BaseURL string

	// HTTPClient is used for API requests (default: http.DefaultClient).
	HTTPClient *http.Client
}

// Client sends analysis requests to Gemini.
type Client struct {
	client *genai.Client
	model  string
}

// New creates a Gemini client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{client: client, model: cfg.Model}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Generate sends a media reference plus prompt and returns the response text.
func (c *Client) Generate(ctx context.Context, req analyzer.Request) (string, error) {
	var parts []*genai.Part
	if req.MediaURI != "" {
		parts = append(parts, genai.NewPartFromURI(req.MediaURI, req.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	config := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.JSONResponse {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", classify(err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", invoker.Fatal(invoker.ErrEmptyResponse)
	}
	return text, nil
}

// classify maps Gemini API errors to invoker call errors.
func classify(err error) error {
	code, status, ok := apiError(err)
	if !ok {
		// Untyped errors are left to the invoker's message heuristic.
		return fmt.Errorf("gemini generate: %w", err)
	}

	class := invoker.ClassFatal
	if code == http.StatusTooManyRequests || status == statusResourceExhausted {
		class = invoker.ClassThrottled
	}
	return &invoker.CallError{
		Class:   class,
		Code:    code,
		Status:  status,
		Message: "gemini generate",
		Err:     err,
	}
}

// apiError extracts code and status from a genai.APIError held by value or pointer.
func apiError(err error) (int, string, bool) {
	var byValue genai.APIError
	if errors.As(err, &byValue) {
		return byValue.Code, byValue.Status, true
	}
	var byPointer *genai.APIError
	if errors.As(err, &byPointer) && byPointer != nil {
		return byPointer.Code, byPointer.Status, true
	}
	return 0, "", false
}
