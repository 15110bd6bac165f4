// Package backend holds Backend implementations for the generation orchestrator.
package backend

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jengzang/framelab-backend/internal/generation"
	"github.com/jengzang/framelab-backend/internal/refimage"
	"github.com/jengzang/framelab-backend/internal/skeleton"
)

var (
	// ErrBackend is wrapped by every non-2xx backend response
	ErrBackend = errors.New("backend error")
	// ErrMissingJobID is returned for pushed updates and unfinished
	// submissions without a job id
	ErrMissingJobID = errors.New("job has no id")
)

// ClientConfig configures the HTTP rendering backend
type ClientConfig struct {
	BaseURL    string
	Token      string
	BasePrompt string
	Timeout    time.Duration
}

// Client talks to a remote job-based rendering service over HTTP
type Client struct {
	baseURL    string
	token      string
	basePrompt string
	http       *http.Client
}

// NewClient creates an HTTP backend client
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		basePrompt: cfg.BasePrompt,
		http:       &http.Client{Timeout: timeout},
	}
}

type poseDescription struct {
	Keypoints    skeleton.KeypointPose `json:"keypoints"`
	ControlImage string                `json:"controlImage"`
}

type submitRequest struct {
	PoseDescription poseDescription `json:"poseDescription"`
	ReferenceImage  string          `json:"referenceImage,omitempty"`
	PromptText      string          `json:"promptText,omitempty"`
	OutputWidth     int             `json:"outputWidth"`
	OutputHeight    int             `json:"outputHeight"`
	InputFile       string          `json:"input_file,omitempty"`
}

type jobResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	ResultImageURL string `json:"resultImageUrl"`
	ErrorMessage   string `json:"errorMessage"`
	Output         any    `json:"output"`
}

// Submit creates a remote job for one frame
func (c *Client) Submit(ctx context.Context, req generation.Request) (generation.Result, error) {
	archive, err := inputArchive(req)
	if err != nil {
		return generation.Result{}, err
	}
	body := submitRequest{
		PoseDescription: poseDescription{
			Keypoints:    req.Keypoints,
			ControlImage: refimage.EncodeDataURL("image/png", req.ControlImage),
		},
		ReferenceImage: req.ReferenceImage,
		PromptText:     ComposePrompt(req.Prompt, c.basePrompt),
		OutputWidth:    req.Width,
		OutputHeight:   req.Height,
		InputFile:      refimage.EncodeDataURL("application/zip", archive),
	}
	var res jobResponse
	if err := c.do(ctx, http.MethodPost, "/jobs", body, &res); err != nil {
		return generation.Result{}, fmt.Errorf("failed to submit job: %w", err)
	}
	result := res.result()
	if result.ID == "" && !result.Status.Terminal() {
		return generation.Result{}, fmt.Errorf("failed to submit job: %w", ErrMissingJobID)
	}
	return result, nil
}

// Poll fetches the current job status
func (c *Client) Poll(ctx context.Context, id string) (generation.Result, error) {
	var res jobResponse
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &res); err != nil {
		return generation.Result{}, fmt.Errorf("failed to poll job %s: %w", id, err)
	}
	if res.ID == "" {
		res.ID = id
	}
	return res.result(), nil
}

// Cancel asks the backend to stop a job
func (c *Client) Cancel(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(id)+"/cancel", nil, nil); err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", id, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s: %s", ErrBackend, resp.Status, errorMessage(data))
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Error        string `json:"error"`
		ErrorMessage string `json:"errorMessage"`
		Detail       string `json:"detail"`
	}
	if json.Unmarshal(body, &payload) == nil {
		for _, m := range []string{payload.ErrorMessage, payload.Error, payload.Detail} {
			if m != "" {
				return m
			}
		}
	}
	return strings.TrimSpace(string(body))
}

func (r jobResponse) result() generation.Result {
	res := generation.Result{
		ID:       r.ID,
		Status:   ParseStatus(r.Status),
		ImageURL: r.ResultImageURL,
		Error:    r.ErrorMessage,
	}
	if res.ImageURL == "" {
		res.ImageURL = firstOutput(r.Output)
	}
	return res
}

// DecodeUpdate parses a job update pushed by the backend. It accepts the
// same payload as a poll response.
func DecodeUpdate(data []byte) (generation.Result, error) {
	var r jobResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return generation.Result{}, fmt.Errorf("failed to decode job update: %w", err)
	}
	if r.ID == "" {
		return generation.Result{}, ErrMissingJobID
	}
	return r.result(), nil
}

// firstOutput picks an image URL from an "output" field that is either a
// string or a list of strings
func firstOutput(v any) string {
	switch out := v.(type) {
	case string:
		return out
	case []any:
		for _, item := range out {
			if s, ok := item.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// ParseStatus maps backend status names onto job statuses. Unknown names
// count as running so polling continues.
func ParseStatus(s string) generation.Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "queued", "starting", "start":
		return generation.StatusPending
	case "succeeded", "success", "completed":
		return generation.StatusSucceeded
	case "failed", "error":
		return generation.StatusFailed
	case "canceled", "cancelled":
		return generation.StatusCanceled
	default:
		return generation.StatusRunning
	}
}

// ComposePrompt puts the user prompt in front of the configured base prompt
func ComposePrompt(user, base string) string {
	user, base = strings.TrimSpace(user), strings.TrimSpace(base)
	switch {
	case user == "":
		return base
	case base == "":
		return user
	default:
		return user + ", " + base
	}
}

// inputArchive bundles the control image and the reference image for
// backends that take a single input file
func inputArchive(req generation.Request) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	files := []struct {
		name string
		data []byte
	}{{"pose.png", req.ControlImage}}
	if req.ReferenceImage != "" {
		ref, err := refimage.DecodePNG(req.ReferenceImage)
		if err != nil {
			return nil, fmt.Errorf("failed to read reference image: %w", err)
		}
		files = append(files, struct {
			name string
			data []byte
		}{"character.png", ref})
	}

	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", f.name, err)
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish input archive: %w", err)
	}
	return buf.Bytes(), nil
}
