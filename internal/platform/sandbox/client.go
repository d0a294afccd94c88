package sandbox

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

	"tle_zone_contest/internal/domain/model"
)

// Client submits execution units to a Judge0-compatible sandbox. Results are
// delivered asynchronously to the callback URL built from each request.
type Client struct {
	baseURL        string
	authToken      string
	callbackURL    string
	callbackSecret string
	httpClient     *http.Client
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = token
	}
}

// WithCallbackSecret appends secret to every callback URL so the webhook can
// reject forged results.
func WithCallbackSecret(secret string) Option {
	return func(c *Client) {
		c.callbackSecret = secret
	}
}

func NewClient(baseURL, callbackURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:     baseURL,
		callbackURL: callbackURL,
		httpClient:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type submissionRequest struct {
	SourceCode     string  `json:"source_code"`
	LanguageID     int     `json:"language_id"`
	Stdin          string  `json:"stdin"`
	ExpectedOutput string  `json:"expected_output"`
	CPUTimeLimit   float64 `json:"cpu_time_limit"`
	MemoryLimit    int     `json:"memory_limit"`
	CallbackURL    string  `json:"callback_url"`
}

type submissionResponse struct {
	Token string `json:"token"`
}

// Submit hands one unit to the sandbox and returns its token. A nil error only
// means the sandbox accepted the work; the verdict arrives on the callback.
func (c *Client) Submit(ctx context.Context, req model.ExecutionRequest) (string, error) {
	body, err := json.Marshal(submissionRequest{
		SourceCode:     req.SourceCode,
		LanguageID:     req.LanguageID,
		Stdin:          req.Stdin,
		ExpectedOutput: req.ExpectedOutput,
		CPUTimeLimit:   req.CPUTimeLimit,
		MemoryLimit:    req.MemoryLimitKb,
		CallbackURL:    c.CallbackURLFor(req.Callback),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal sandbox request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/submissions?base64_encoded=false&wait=false", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create sandbox request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		httpReq.Header.Set("X-Auth-Token", c.authToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read sandbox response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("sandbox HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var out submissionResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &out); err != nil {
			return "", fmt.Errorf("failed to decode sandbox response: %w", err)
		}
	}
	return out.Token, nil
}

// CallbackURLFor encodes ref into the callback query string.
func (c *Client) CallbackURLFor(ref model.CallbackRef) string {
	q := url.Values{}
	q.Set("userId", ref.UserID)
	q.Set("isSubmission", strconv.FormatBool(ref.IsSubmission))
	q.Set("problemId", ref.ProblemID)
	q.Set("testCaseId", ref.TestCaseID)
	q.Set("submissionId", ref.SubmissionID)
	if c.callbackSecret != "" {
		q.Set("secret", c.callbackSecret)
	}
	return c.callbackURL + "?" + q.Encode()
}

// ParseCallbackRef reads the correlation tuple back out of a callback query.
func ParseCallbackRef(q url.Values) model.CallbackRef {
	isSubmission, _ := strconv.ParseBool(q.Get("isSubmission"))
	return model.CallbackRef{
		UserID:       q.Get("userId"),
		IsSubmission: isSubmission,
		ProblemID:    q.Get("problemId"),
		TestCaseID:   q.Get("testCaseId"),
		SubmissionID: q.Get("submissionId"),
	}
}
