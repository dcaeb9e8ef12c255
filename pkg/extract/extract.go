// Package extract turns a free-text site update into structured data with
// one LLM call.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vapidispatch/models"
	"vapidispatch/pkg/apperr"
)

// Note is a labelled raw field already collected from the caller.
type Note struct {
	Label string
	Value string
}

// Input is what gets sent to the model.
type Input struct {
	SiteName   string
	Transcript string
	Notes      []Note
}

// Result is the structured output of one extraction.
type Result struct {
	SummaryBrief    string
	SummaryDetailed string

	MainFocus          *string
	MaterialsDelivered *string
	WorkProgress       *string
	Issues             *string
	Delays             *string
	Staffing           *string
	SiteVisitors       *string
	SiteConditions     *string
	FollowUpActions    *string

	IsWetWeatherClosure bool
	HasUrgentIssues     bool
	HasSafetyConcerns   bool
	HasDelays           bool
	HasMaterialIssues   bool

	ActionItems []models.ActionItem
	Blockers    []models.Blocker
	Concerns    []models.Concern
}

// Config configures the OpenAI-compatible chat completions client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	HTTPClient  *http.Client
}

// Client calls the model.
type Client struct {
	cfg    Config
	prompt *Prompt
}

func NewClient(cfg Config, prompt *Prompt) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
	}
	if prompt == nil {
		prompt = NewPrompt()
	}
	return &Client{cfg: cfg, prompt: prompt}
}

const failedMessage = "I couldn't process the details of that update right now."

// Extract makes exactly one model call. Transport errors, non-2xx replies and
// output that does not match the expected shape are UpstreamFailure.
func (c *Client) Extract(ctx context.Context, in Input) (*Result, error) {
	if strings.TrimSpace(in.Transcript) == "" {
		return nil, apperr.Validation("There was no update text to process.", nil)
	}
	userPrompt, err := c.prompt.render(in)
	if err != nil {
		return nil, apperr.Upstream(failedMessage, fmt.Errorf("render prompt: %w", err))
	}
	content, err := c.complete(ctx, userPrompt)
	if err != nil {
		return nil, apperr.Upstream(failedMessage, err)
	}
	res, err := Parse(content)
	if err != nil {
		return nil, apperr.Upstream(failedMessage, fmt.Errorf("parse model output: %w", err))
	}
	return res, nil
}

func (c *Client) complete(ctx context.Context, userPrompt string) (string, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/chat/completions"
	payload := map[string]any{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"max_tokens":  c.cfg.MaxTokens,
		"response_format": map[string]string{
			"type": "json_object",
		},
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.cfg.APIKey) != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("llm status %d: %s", resp.StatusCode, string(body))
	}
	var wrapper struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return "", err
	}
	if len(wrapper.Choices) == 0 {
		return "", errors.New("empty llm response")
	}
	return strings.TrimSpace(wrapper.Choices[0].Message.Content), nil
}
