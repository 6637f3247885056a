package boothsim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// contentTypes maps declared formats to the MIME type the upload must carry.
var contentTypes = map[string]string{
	"mp4":  "audio/mp4",
	"m4a":  "audio/mp4",
	"webm": "audio/webm",
	"wav":  "audio/wav",
	"aac":  "audio/aac",
}

// HTTPClient talks to the booth API.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

func newHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type submitResponse struct {
	ResponseID string `json:"responseId"`
	UploadURL  string `json:"uploadUrl"`
	ExpiresIn  int    `json:"expiresIn"`
	S3Key      string `json:"s3Key"`
	Timestamp  int64  `json:"timestamp"`
}

type processResponse struct {
	ResponseID    string `json:"responseId"`
	Transcription string `json:"transcription"`
	Score         int    `json:"score"`
	Roast         string `json:"roast"`
	PrizeEligible bool   `json:"prizeEligible"`
}

// statusError is returned for any unexpected HTTP status.
type statusError struct {
	Op     string
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, e.Body)
}

func (c *HTTPClient) health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/healthz", "", nil)
	if err != nil {
		return err
	}
	return expect(resp, "healthz", http.StatusOK, nil)
}

func (c *HTTPClient) submit(ctx context.Context, p Participant) (submitResponse, error) {
	body, err := json.Marshal(map[string]any{
		"name":        p.Name,
		"audioFormat": p.Format,
		"audioSize":   len(p.Audio),
	})
	if err != nil {
		return submitResponse{}, fmt.Errorf("marshal submit: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/submit", "application/json", bytes.NewReader(body))
	if err != nil {
		return submitResponse{}, err
	}
	var out submitResponse
	return out, expect(resp, "submit", http.StatusOK, &out)
}

func (c *HTTPClient) upload(ctx context.Context, uploadURL string, p Participant) error {
	resp, err := c.do(ctx, http.MethodPut, uploadURL, contentTypes[p.Format], bytes.NewReader(p.Audio))
	if err != nil {
		return err
	}
	return expect(resp, "upload", http.StatusOK, nil)
}

func (c *HTTPClient) process(ctx context.Context, id string, timestamp int64) (processResponse, error) {
	body, err := json.Marshal(map[string]any{"responseId": id, "timestamp": timestamp})
	if err != nil {
		return processResponse{}, fmt.Errorf("marshal process: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/process", "application/json", bytes.NewReader(body))
	if err != nil {
		return processResponse{}, err
	}
	var out processResponse
	return out, expect(resp, "process", http.StatusOK, &out)
}

func (c *HTTPClient) leaderboard(ctx context.Context, limit int) (Leaderboard, error) {
	u := c.baseURL + "/leaderboard"
	if limit > 0 {
		u += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	resp, err := c.do(ctx, http.MethodGet, u, "", nil)
	if err != nil {
		return Leaderboard{}, err
	}
	var out Leaderboard
	return out, expect(resp, "leaderboard", http.StatusOK, &out)
}

func (c *HTTPClient) do(ctx context.Context, method, u, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u, err)
	}
	return resp, nil
}

// expect checks the status and decodes the JSON body into out when non-nil.
func expect(resp *http.Response, op string, status int, out any) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}
	if resp.StatusCode != status {
		return &statusError{Op: op, Status: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: parse response: %w", op, err)
	}
	return nil
}
