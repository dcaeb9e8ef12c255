package vapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the VAPI REST API to manage tool definitions.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// Tool is a VAPI function tool.
type Tool struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function ToolFunction `json:"function"`
	Server   *ToolServer  `json:"server,omitempty"`
}

type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type ToolServer struct {
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"`
}

func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	if err := c.do(ctx, http.MethodGet, "/tool", nil, &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

func (c *Client) CreateTool(ctx context.Context, t Tool) (*Tool, error) {
	t.ID = ""
	if t.Type == "" {
		t.Type = "function"
	}
	var out Tool
	if err := c.do(ctx, http.MethodPost, "/tool", t, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTool patches the function definition and server of an existing tool.
func (c *Client) UpdateTool(ctx context.Context, id string, t Tool) (*Tool, error) {
	body := map[string]any{"function": t.Function}
	if t.Server != nil {
		body["server"] = t.Server
	}
	var out Tool
	if err := c.do(ctx, http.MethodPatch, "/tool/"+id, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("vapi %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
