// Package stage provides the generation capabilities behind the three
// pipeline stages: outline planning, per-slide content writing, and layout
// suggestion. The OpenAI client implements all three against the chat
// completions API; Static is the offline stand-in.
package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/deckforge/deckd/internal/domain"
)

const (
	openaiBaseURL      = "https://api.openai.com/v1/chat/completions"
	openaiModel        = "gpt-4o-mini"
	openaiMaxRetries   = 3
	openaiInitialDelay = 1 * time.Second
)

// OpenAIClient calls the chat completions API for every stage.
type OpenAIClient struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewOpenAIClient creates a client for the production API.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = openaiModel
	}
	return &OpenAIClient{
		apiKey:  apiKey,
		baseURL: openaiBaseURL,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// NewOpenAIClientWithBaseURL is for tests and API-compatible proxies.
func NewOpenAIClientWithBaseURL(apiKey, model, baseURL string) *OpenAIClient {
	c := NewOpenAIClient(apiKey, model)
	c.baseURL = baseURL
	return c
}

// GenerateOutline plans the deck as JSON: a title and exactly the requested
// number of slide descriptors.
func (c *OpenAIClient) GenerateOutline(ctx context.Context, in domain.GenerationInput) (*domain.Outline, error) {
	system := fmt.Sprintf(
		"You plan slide decks. Respond with a JSON object {\"title\": string, \"slides\": [{\"order\": int, \"title\": string, \"type\": one of title|content|quote|chart|image|closing, \"key_points\": [string]}]}. "+
			"The slides array must contain exactly %d entries, numbered from 1. Write in %s.",
		in.SlideCount, languageOrDefault(in.Language))
	user := in.Content
	if in.Style != "" {
		user = fmt.Sprintf("Style: %s\n\n%s", in.Style, user)
	}

	raw, err := c.complete(ctx, system, user)
	if err != nil {
		return nil, err
	}
	var outline domain.Outline
	if err := json.Unmarshal([]byte(raw), &outline); err != nil {
		return nil, fmt.Errorf("decode outline: %w", err)
	}
	return &outline, nil
}

// GenerateSlideContent writes the body for one planned slide.
func (c *OpenAIClient) GenerateSlideContent(ctx context.Context, plan domain.SlidePlan, language string) (*domain.SlideBody, error) {
	system := fmt.Sprintf(
		"You write slide content. Respond with a JSON object {\"heading\": string, \"subheading\": string, \"body\": string, \"bullets\": [string]}. "+
			"Keep it concise and presentation-ready. Write in %s.",
		languageOrDefault(language))
	user := fmt.Sprintf("Slide %d (%s): %s", plan.Order, plan.Type, plan.Title)
	if len(plan.KeyPoints) > 0 {
		user += "\nKey points:\n- " + strings.Join(plan.KeyPoints, "\n- ")
	}

	raw, err := c.complete(ctx, system, user)
	if err != nil {
		return nil, err
	}
	var body domain.SlideBody
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return nil, fmt.Errorf("decode slide body: %w", err)
	}
	return &body, nil
}

// SuggestLayout picks a layout name for a generated slide. Unknown
// suggestions are mapped to the slide type's default rather than trusted.
func (c *OpenAIClient) SuggestLayout(ctx context.Context, body domain.SlideBody, slideType domain.SlideType) (string, error) {
	system := fmt.Sprintf(
		"You pick slide layouts. Respond with a JSON object {\"layout\": string} where layout is one of: %s.",
		strings.Join(KnownLayouts(), ", "))
	user := fmt.Sprintf("Slide type: %s\nHeading: %s\nBullets: %d\nBody length: %d",
		slideType, body.Heading, len(body.Bullets), len(body.Body))

	raw, err := c.complete(ctx, system, user)
	if err != nil {
		return "", err
	}
	var out struct {
		Layout string `json:"layout"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", fmt.Errorf("decode layout: %w", err)
	}
	if !ValidLayout(out.Layout) {
		return DefaultLayout(slideType), nil
	}
	return out.Layout, nil
}

// complete runs one chat completion and returns the message content.
// Retries with exponential backoff on 429 and 5xx, like every other
// well-behaved API client.
func (c *OpenAIClient) complete(ctx context.Context, system, user string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("api key not set")
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0.7,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < openaiMaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * openaiInitialDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			var apiErr apiError
			if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
				lastErr = fmt.Errorf("api error (%d): %s", resp.StatusCode, apiErr.Error.Message)
			} else {
				lastErr = fmt.Errorf("api error (%d): %s", resp.StatusCode, string(respBody))
			}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				continue
			}
			return "", lastErr
		}

		var chatResp chatResponse
		if err := json.Unmarshal(respBody, &chatResp); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if len(chatResp.Choices) == 0 {
			return "", fmt.Errorf("empty completion")
		}
		return chatResp.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("max retries (%d) exceeded: %w", openaiMaxRetries, lastErr)
}

func languageOrDefault(lang string) string {
	if lang == "" {
		return "en"
	}
	return lang
}
