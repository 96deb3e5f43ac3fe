// Package client is a typed HTTP client for the movieshorts API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/movieshorts/movieshorts/internal/analysis"
	"github.com/movieshorts/movieshorts/internal/api"
	"github.com/movieshorts/movieshorts/internal/catalog"
	"github.com/movieshorts/movieshorts/internal/logging"
	"github.com/movieshorts/movieshorts/internal/subtitle"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		// uploads and cuts are bounded by the caller's context
		httpClient: &http.Client{},
		logger:     logging.WithComponent(logger, "client"),
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.getJSON(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Upload streams the file at path as the "video" form field.
func (c *Client) Upload(ctx context.Context, path string) (*api.UploadResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeVideoPart(mw, filepath.Base(path), f))
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/upload", pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out api.UploadResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	c.logger.Info("video uploaded", "video_id", out.Filename, "size", logging.HumanSize(out.Size))
	return &out, nil
}

func writeVideoPart(mw *multipart.Writer, name string, r io.Reader) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{"name": "video", "filename": name}))
	h.Set("Content-Type", catalog.MediaTypeFor(name))
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}

func (c *Client) Cut(ctx context.Context, videoID string, start, end float64) (*api.CutResponse, error) {
	var out api.CutResponse
	in := api.CutRequest{Filename: videoID, StartTime: &start, EndTime: &end}
	if err := c.postJSON(ctx, "/cut", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CheckSubtitles(ctx context.Context, videoID string) (*subtitle.Availability, error) {
	var out subtitle.Availability
	if err := c.getJSON(ctx, "/check-subtitles/"+url.PathEscape(videoID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetSubtitles(ctx context.Context, videoID string) (*api.SubtitlesResponse, error) {
	var out api.SubtitlesResponse
	if err := c.getJSON(ctx, "/get-subtitles/"+url.PathEscape(videoID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadSubtitles writes the SRT file to w and returns the attachment name
// suggested by the server.
func (c *Client) DownloadSubtitles(ctx context.Context, videoID string, w io.Writer) (string, error) {
	return c.download(ctx, "/extract-subtitles/"+url.PathEscape(videoID), w)
}

// DownloadCut writes a cut's bytes to w.
func (c *Client) DownloadCut(ctx context.Context, cutID string, w io.Writer) (string, error) {
	return c.download(ctx, "/cuts/"+url.PathEscape(cutID)+"?download=1", w)
}

func (c *Client) Analyze(ctx context.Context, entries []subtitle.Entry) ([]analysis.Section, error) {
	if entries == nil {
		entries = []subtitle.Entry{}
	}
	var out api.AnalyzeResponse
	if err := c.postJSON(ctx, "/analyze-subtitles", map[string]any{"subtitles": entries}, &out); err != nil {
		return nil, err
	}
	return out.Sections, nil
}

func (c *Client) download(ctx context.Context, path string, w io.Writer) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	name := ""
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		name = filepath.Base(params["filename"])
	}
	return name, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var e api.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		apiErr.Code = e.Code
		apiErr.Message = e.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
