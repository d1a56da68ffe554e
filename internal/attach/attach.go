// Package attach defines the attachment text-extraction collaborator. The
// extraction itself (OCR, transcription) runs in an external service; this
// package only carries the call.
package attach

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Extractor turns an attachment into supplementary dialog text. An empty
// result means the attachment carried nothing usable.
type Extractor interface {
	ExtractText(ctx context.Context, url, name string) (string, error)
}

// HTTPExtractor posts attachments to an extraction endpoint.
type HTTPExtractor struct {
	endpoint string
	token    string
	http     *http.Client
	logger   zerolog.Logger
}

// NewHTTPExtractor creates an extractor for the given endpoint. The token,
// when set, is sent as a bearer credential.
func NewHTTPExtractor(endpoint, token string, timeout time.Duration, logger zerolog.Logger) *HTTPExtractor {
	return &HTTPExtractor{
		endpoint: endpoint,
		token:    token,
		http:     &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "attach").Logger(),
	}
}

// ExtractText submits the attachment reference and returns the extracted
// text. Unsupported attachments come back empty, not as errors.
func (e *HTTPExtractor) ExtractText(ctx context.Context, url, name string) (string, error) {
	body, err := json.Marshal(map[string]string{"url": url, "name": name})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("extraction request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("extraction returned %d: %s", resp.StatusCode, snippet)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode extraction response: %w", err)
	}

	e.logger.Debug().Str("name", name).Int("chars", len(out.Text)).Msg("Attachment text extracted")
	return out.Text, nil
}

// Noop is used when no extraction endpoint is configured.
type Noop struct{}

// ExtractText always returns empty text.
func (Noop) ExtractText(ctx context.Context, url, name string) (string, error) {
	return "", nil
}
