package tracker

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

	"github.com/rs/zerolog"
)

// Client talks to the tracker REST API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient creates a tracker client for the given API base URL.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "tracker").Logger(),
	}
}

// Auth exchanges a bot login and tenant security key for an access token.
func (c *Client) Auth(ctx context.Context, login, securityKey string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"login":        login,
		"security_key": securityKey,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("tracker auth returned empty access token")
	}
	return resp.AccessToken, nil
}

// Catalog fetches a tracker dictionary by id.
func (c *Client) Catalog(ctx context.Context, token string, dictionaryID int64) (*Catalog, error) {
	req, err := c.get(ctx, token, fmt.Sprintf("/catalogs/%d", dictionaryID), nil)
	if err != nil {
		return nil, err
	}

	var catalog Catalog
	if err := c.do(req, &catalog); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// TaskFields fetches the form fields of a task.
func (c *Client) TaskFields(ctx context.Context, token string, taskID int64) ([]Field, error) {
	req, err := c.get(ctx, token, fmt.Sprintf("/tasks/%d", taskID), nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Task struct {
			Fields []Field `json:"fields"`
		} `json:"task"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Task.Fields, nil
}

// Register fetches the register of a card form, restricted to one field and
// including archived tasks.
func (c *Client) Register(ctx context.Context, token string, formID, fieldID int64) ([]RegisterTask, error) {
	params := url.Values{
		"include_archived": {"y"},
		"field_ids":        {strconv.FormatInt(fieldID, 10)},
	}
	req, err := c.get(ctx, token, fmt.Sprintf("/forms/%d/register", formID), params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Tasks []RegisterTask `json:"tasks"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

func (c *Client) get(ctx context.Context, token, path string, params url.Values) (*http.Request, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build tracker request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tracker request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("path", req.URL.Path).
			Msg("Tracker returned non-OK status")
		return fmt.Errorf("tracker returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode tracker response: %w", err)
	}
	return nil
}
