package ollama

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
)

// Client talks to a local Ollama server over its native HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Pulls stream for minutes; per-call deadlines come from ctx.
		httpClient: &http.Client{Timeout: 0},
	}
}

// BaseURL is the server URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type tagsResponse struct {
	Models []Model `json:"models"`
}

// Model is one entry of GET /api/tags.
type Model struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest"`
	ModifiedAt time.Time `json:"modified_at"`
}

// IsRunning reports whether the server answers GET /api/tags with 200.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ListModels returns the models installed locally.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting model list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("list models", resp)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decoding model list: %w", err)
	}
	return tags.Models, nil
}

// HasModel reports whether name is installed. A bare name matches any tag
// ("phi3" matches "phi3:latest").
func (c *Client) HasModel(ctx context.Context, name string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if MatchName(m.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

// MatchName reports whether an installed model name satisfies a requested one.
func MatchName(installed, requested string) bool {
	if installed == requested {
		return true
	}
	if !strings.Contains(requested, ":") {
		return strings.HasPrefix(installed, requested+":")
	}
	return false
}

type pullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// PullProgress is one line of the streamed pull response.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PullModel downloads name, calling onProgress for every streamed line.
// onProgress may be nil.
func (c *Client) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	body, err := json.Marshal(pullRequest{Model: name, Stream: true})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pulling model %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("pull "+name, resp)
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var p PullProgress
		if err := dec.Decode(&p); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return fmt.Errorf("reading pull progress: %w", err)
		}
		if p.Error != "" {
			return fmt.Errorf("pull %s: %s", name, p.Error)
		}
		if onProgress != nil {
			onProgress(p)
		}
	}
	return nil
}

type generateRequest struct {
	Model     string `json:"model"`
	KeepAlive string `json:"keep_alive"`
	Stream    bool   `json:"stream"`
}

// Load asks the server to load name into memory and keep it there for
// keepAlive. A generate request with no prompt only loads the model.
func (c *Client) Load(ctx context.Context, name string, keepAlive time.Duration) error {
	return c.generate(ctx, generateRequest{Model: name, KeepAlive: keepAlive.String()})
}

// Release asks the server to unload name right away.
func (c *Client) Release(ctx context.Context, name string) error {
	return c.generate(ctx, generateRequest{Model: name, KeepAlive: "0"})
}

func (c *Client) generate(ctx context.Context, gr generateRequest) error {
	body, err := json.Marshal(gr)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("generate %s: %w", gr.Model, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("generate %s: unexpected status %d", gr.Model, resp.StatusCode)
	}
	return nil
}

// statusError reads Ollama's {"error": "..."} body when there is one.
func statusError(op string, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return fmt.Errorf("%s: %s (status %d)", op, body.Error, resp.StatusCode)
	}
	return fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
}
