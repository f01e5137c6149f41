package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// HTTPConfig contains remote transcription engine configuration.
type HTTPConfig struct {
	Endpoint     string
	APIKey       string
	Timeout      time.Duration
	MaxRetries   int
	OutputFormat string // "json" or "text"
}

// HTTPEngine transcribes audio through a remote whisper-compatible HTTP
// API. Failed requests are retried with exponential backoff up to
// MaxRetries; the default of zero keeps a failed job terminal.
type HTTPEngine struct {
	config     HTTPConfig
	httpClient *http.Client
}

// httpResponse is the wire shape of the remote API's JSON response.
type httpResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	} `json:"segments,omitempty"`
}

// NewHTTPEngine creates a remote transcription engine.
func NewHTTPEngine(config HTTPConfig) (*HTTPEngine, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	if config.OutputFormat == "" {
		config.OutputFormat = "json"
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &HTTPEngine{
		config:     config,
		httpClient: httpClient,
	}, nil
}

// Transcribe implements Engine. The remote API returns the whole result at
// once, so onSegment fires for every segment just before returning.
func (e *HTTPEngine) Transcribe(ctx context.Context, req Request, onSegment func(Segment)) (*Result, error) {
	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := e.doRequest(ctx, req)
		if err == nil {
			for i := range result.Segments {
				if onSegment != nil {
					onSegment(result.Segments[i])
				}
			}
			return result, nil
		}

		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}

	return nil, fmt.Errorf("transcription failed after %d attempts: %w", e.config.MaxRetries+1, lastErr)
}

func (e *HTTPEngine) doRequest(ctx context.Context, req Request) (*Result, error) {
	body, contentType, err := e.createMultipartRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	if e.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "VoiceInk-Core/1.0")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var wire httpResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	result := &Result{
		Text:     wire.Text,
		Language: wire.Language,
		Duration: wire.Duration,
		ModelID:  req.ModelID,
	}

	for i, s := range wire.Segments {
		result.Segments = append(result.Segments, Segment{
			ID:         fmt.Sprintf("seg-%03d", i),
			Text:       s.Text,
			Start:      s.Start,
			End:        s.End,
			Confidence: s.Confidence,
			Final:      i == len(wire.Segments)-1,
		})
	}

	return result, nil
}

// createMultipartRequest builds a multipart/form-data body with the WAV
// buffer as the file part and request parameters as form fields.
func (e *HTTPEngine) createMultipartRequest(req Request) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "recording.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(req.Audio); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"model":           req.ModelID,
		"response_format": e.config.OutputFormat,
	}

	if req.Language != "" {
		fields["language"] = req.Language
	}
	if req.Timestamps {
		fields["timestamp_granularities"] = "segment"
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryableError reports whether a request failure is worth retrying.
// 5xx and 429 responses plus transport-level failures qualify.
func isRetryableError(err error) bool {
	if err == context.DeadlineExceeded {
		return true
	}

	errStr := err.Error()

	if strings.Contains(errStr, "HTTP error 5") {
		return true
	}

	if strings.Contains(errStr, "HTTP error 429") {
		return true
	}

	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "refused") {
		return true
	}

	return false
}
