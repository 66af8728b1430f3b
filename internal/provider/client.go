package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClientConfig configures one provider family's HTTP client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	AccessKey  string // set together with SecretKey for JWT-authenticated APIs
	SecretKey  string
	CreatePath string
	StatusPath string

	CreateTimeout   time.Duration
	PollTimeout     time.Duration
	DownloadTimeout time.Duration
}

// Client talks to one provider's asynchronous task API: create a task, poll
// its status, download the result.
type Client struct {
	cfg      ClientConfig
	create   *http.Client
	poll     *http.Client
	download *http.Client
	log      *slog.Logger
}

func NewClient(cfg ClientConfig, log *slog.Logger) *Client {
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = 60 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 300 * time.Second
	}
	if cfg.CreatePath == "" {
		cfg.CreatePath = "/api/v1/jobs/createTask"
	}
	if cfg.StatusPath == "" {
		cfg.StatusPath = "/api/v1/jobs/recordInfo"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:      cfg,
		create:   &http.Client{Timeout: cfg.CreateTimeout},
		poll:     &http.Client{Timeout: cfg.PollTimeout},
		download: &http.Client{Timeout: cfg.DownloadTimeout},
		log:      log,
	}
}

// taskEnvelope is the provider's response wrapper.
type taskEnvelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID     string `json:"taskId"`
		State      string `json:"state"`
		ResultJSON string `json:"resultJson"`
		FailCode   string `json:"failCode"`
		FailMsg    string `json:"failMsg"`
	} `json:"data"`
}

// CreateTask submits a generation task and returns the remote task id.
func (c *Client) CreateTask(ctx context.Context, model string, input map[string]any) (string, error) {
	payload := map[string]any{
		"model": model,
		"input": input,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	fullURL := c.cfg.BaseURL + c.cfg.CreatePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if err := c.authorize(req); err != nil {
		return "", err
	}

	resp, err := c.create.Do(req)
	if err != nil {
		return "", Transientf("create task: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Transientf("read create response: %v", err)
	}
	if resp.StatusCode >= 300 {
		return "", statusError(resp.StatusCode, raw)
	}

	var env taskEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("decode create response: %w (body=%s)", err, truncateBody(raw))
	}
	if env.Code != 200 {
		return "", Rejectedf("create failed: code=%d msg=%s", env.Code, env.Msg)
	}
	if env.Data.TaskID == "" {
		return "", Rejectedf("empty task id in response")
	}

	c.log.Info("provider task created", "model", model, "task_id", env.Data.TaskID)
	return env.Data.TaskID, nil
}

// TaskStatus polls one task. Pending is (Status{}, nil); success carries all
// artifact URLs; terminal failure is an ErrRejected error.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (Status, error) {
	endpoint, err := url.Parse(c.cfg.BaseURL + c.cfg.StatusPath)
	if err != nil {
		return Status{}, fmt.Errorf("parse status url: %w", err)
	}
	q := endpoint.Query()
	q.Set("taskId", taskID)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Status{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if err := c.authorize(req); err != nil {
		return Status{}, err
	}

	resp, err := c.poll.Do(req)
	if err != nil {
		return Status{}, Transientf("poll task: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Status{}, Transientf("read poll response: %v", err)
	}
	if resp.StatusCode >= 300 {
		return Status{}, statusError(resp.StatusCode, raw)
	}

	var env taskEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Status{}, fmt.Errorf("decode poll response: %w (body=%s)", err, truncateBody(raw))
	}
	if env.Code != 200 {
		return Status{}, Rejectedf("poll failed: code=%d msg=%s", env.Code, env.Msg)
	}

	switch env.Data.State {
	case "success":
		urls, err := ResultURLs([]byte(env.Data.ResultJSON))
		if err != nil {
			return Status{}, err
		}
		return Status{Done: true, ArtifactURLs: urls}, nil
	case "fail":
		msg := env.Data.FailMsg
		if msg == "" {
			msg = "unknown error"
		}
		return Status{}, Rejectedf("%s (code %s)", msg, env.Data.FailCode)
	case "waiting", "generating", "processing", "queued", "queueing", "pending", "":
		return Status{}, nil
	default:
		return Status{}, Rejectedf("unknown task state: %s", env.Data.State)
	}
}

// Download fetches the artifact bytes, following redirects.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := c.download.Do(req)
	if err != nil {
		return nil, Transientf("download artifact: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, statusError(resp.StatusCode, raw)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transientf("read artifact: %v", err)
	}
	if len(data) == 0 {
		return nil, Rejectedf("empty artifact body")
	}
	return data, nil
}

// authorize attaches either a plain bearer key or a short-lived HS256 token
// for providers that require signed requests.
func (c *Client) authorize(req *http.Request) error {
	if c.cfg.AccessKey != "" && c.cfg.SecretKey != "" {
		token, err := signedToken(c.cfg.AccessKey, c.cfg.SecretKey, time.Now())
		if err != nil {
			return fmt.Errorf("sign provider token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	return nil
}

// signedToken builds the per-request HS256 JWT: iss=access key, nbf skewed
// 5 s back, 30 minute expiry.
func signedToken(accessKey, secretKey string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss": accessKey,
		"iat": now.Unix(),
		"nbf": now.Add(-5 * time.Second).Unix(),
		"exp": now.Add(30 * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secretKey))
}

// parseCallback interprets a pushed result payload. It carries the same
// envelope as a poll response; a callback for a still-running task counts as
// pending.
func parseCallback(payload []byte) (Status, error) {
	var env taskEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Status{}, Rejectedf("decode callback payload: %v", err)
	}
	if env.Code != 200 {
		return Status{}, Rejectedf("callback failed: code=%d msg=%s", env.Code, env.Msg)
	}
	switch env.Data.State {
	case "success", "":
		urls, err := ResultURLs([]byte(env.Data.ResultJSON))
		if err != nil {
			return Status{}, err
		}
		return Status{Done: true, ArtifactURLs: urls}, nil
	case "fail":
		msg := env.Data.FailMsg
		if msg == "" {
			msg = "unknown error"
		}
		return Status{}, Rejectedf("%s (code %s)", msg, env.Data.FailCode)
	default:
		return Status{}, nil
	}
}

// ResultURLs parses the provider's resultJson payload into artifact URLs.
func ResultURLs(resultJSON []byte) ([]string, error) {
	if len(resultJSON) == 0 {
		return nil, Rejectedf("empty result payload")
	}
	var result struct {
		ResultURLs []string `json:"resultUrls"`
	}
	if err := json.Unmarshal(resultJSON, &result); err != nil {
		return nil, Rejectedf("parse result payload: %v", err)
	}
	if len(result.ResultURLs) == 0 {
		return nil, Rejectedf("no artifact urls in result")
	}
	return result.ResultURLs, nil
}

func statusError(code int, body []byte) error {
	if code >= 500 || code == http.StatusTooManyRequests {
		return Transientf("status=%d body=%s", code, truncateBody(body))
	}
	return Rejectedf("status=%d body=%s", code, truncateBody(body))
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
