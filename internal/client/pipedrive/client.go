package pipedrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"crmsync/internal/config"
)

type Client struct {
	host       string
	version    string
	token      string
	limits     config.FieldLimits
	sanitize   bool
	httpClient *http.Client
}

// APIError is an API-level rejection: the remote host answered, parsing
// succeeded, but the call was refused. Transport failures are plain errors.
type APIError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pipedrive error (%d): %s", e.Status, redactToken(e.Message))
}

func NewClient(httpClient *http.Client, host, version, token string, limits config.FieldLimits, sanitize bool) *Client {
	if host == "" {
		host = "https://api.pipedrive.com"
	}
	if version == "" {
		version = "v1"
	}
	host = strings.TrimRight(host, "/")
	return &Client{
		host:       host,
		version:    version,
		token:      token,
		limits:     limits,
		sanitize:   sanitize,
		httpClient: httpClient,
	}
}

type apiEnvelope struct {
	Success        bool            `json:"success"`
	Data           json.RawMessage `json:"data"`
	Error          string          `json:"error"`
	ErrorInfo      string          `json:"error_info"`
	AdditionalData *additionalData `json:"additional_data"`
}

type additionalData struct {
	Pagination *pagination `json:"pagination"`
}

type pagination struct {
	Start                 int  `json:"start"`
	Limit                 int  `json:"limit"`
	MoreItemsInCollection bool `json:"more_items_in_collection"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, payload any) (*apiEnvelope, *APIError, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_token", c.token)
	fullURL := c.host + "/" + c.version + path + "?" + query.Encode()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("pipedrive request failed: %s", redactToken(err.Error()))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	var env apiEnvelope
	if len(raw) == 0 || json.Unmarshal(raw, &env) != nil {
		return nil, &APIError{
			Status:  resp.StatusCode,
			Message: "invalid response from pipedrive",
		}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		message := strings.TrimSpace(env.Error)
		if env.ErrorInfo != "" {
			message = strings.TrimSpace(message + " " + env.ErrorInfo)
		}
		if message == "" {
			message = "request rejected"
		}
		apiErr := &APIError{Status: resp.StatusCode, Message: message}
		if resp.StatusCode == http.StatusTooManyRequests {
			apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return nil, apiErr, nil
	}

	return &env, nil, nil
}

func parseRetryAfter(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if secs, err := time.ParseDuration(raw + "s"); err == nil {
		return secs
	}
	return 0
}

var tokenPattern = regexp.MustCompile(`api_token=[^&\s"]+`)

// redactToken keeps the raw credential out of logs, run summaries and API
// responses.
func redactToken(s string) string {
	return tokenPattern.ReplaceAllString(s, "api_token=***")
}

type idData struct {
	ID int64 `json:"id"`
}

// Result is the per-call outcome. Err is set for API-level rejections; the
// caller owns persisting the remote id mapping on success.
type Result struct {
	Success bool
	ID      int64
	Err     *APIError
}

func resultFrom(env *apiEnvelope, apiErr *APIError) Result {
	if apiErr != nil {
		return Result{Success: false, Err: apiErr}
	}
	var data idData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.ID == 0 {
		return Result{Success: false, Err: &APIError{
			Status:  http.StatusOK,
			Message: "invalid response from pipedrive",
		}}
	}
	return Result{Success: true, ID: data.ID}
}

// TestConnection verifies that the configured credential is accepted.
func (c *Client) TestConnection(ctx context.Context) error {
	_, apiErr, err := c.doRequest(ctx, http.MethodGet, "/users/me", nil, nil)
	if err != nil {
		return err
	}
	if apiErr != nil {
		return apiErr
	}
	return nil
}
