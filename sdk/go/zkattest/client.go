package zkattest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Event streaming requests override it with no timeout.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the ZKAttest REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// SessionSubmission represents the payload required to create a new session.
// ID is optional; when set, resubmitting the same ID is idempotent.
type SessionSubmission struct {
	ID   string `json:"id,omitempty"`
	Kind string `json:"kind"`
}

// Summary aggregates per-session counters.
type Summary struct {
	Candidates         int `json:"candidates"`
	Verified           int `json:"verified"`
	FailedVerification int `json:"failed_verification"`
	Attested           int `json:"attested"`
	AlreadyRecorded    int `json:"already_recorded"`
	FailedAttestation  int `json:"failed_attestation"`
}

// AttestationRecord describes the ledger outcome for one verified proof.
type AttestationRecord struct {
	Fingerprint string `json:"fingerprint"`
	Endpoint    string `json:"endpoint,omitempty"`
	ReceiptID   string `json:"receipt_id,omitempty"`
	ExplorerURL string `json:"explorer_url,omitempty"`
	SubmittedAt int64  `json:"submitted_at"`
	ConfirmedAt int64  `json:"confirmed_at,omitempty"`
	Outcome     string `json:"outcome"`
	LastError   string `json:"last_error,omitempty"`
}

// LogEntry is a single timestamped line from the session log.
type LogEntry struct {
	At      int64  `json:"at"`
	Phase   string `json:"phase"`
	Message string `json:"message"`
}

// Session is the server-side view of an attestation session.
type Session struct {
	ID                   string              `json:"id"`
	Kind                 string              `json:"kind"`
	Phase                string              `json:"phase"`
	ProgressPercent      int                 `json:"progress_percent"`
	Log                  []LogEntry          `json:"log,omitempty"`
	Candidates           []string            `json:"candidates,omitempty"`
	VerifiedFingerprints []string            `json:"verified_fingerprints,omitempty"`
	Attestations         []AttestationRecord `json:"attestations,omitempty"`
	Summary              Summary             `json:"summary"`
	Error                string              `json:"error,omitempty"`
	CreatedAt            int64               `json:"created_at"`
	UpdatedAt            int64               `json:"updated_at"`
}

// Event is one entry of the NDJSON event stream for a session.
type Event struct {
	Type        string             `json:"type"`
	SessionID   string             `json:"session_id"`
	At          int64              `json:"at"`
	Phase       string             `json:"phase,omitempty"`
	Progress    int                `json:"progress,omitempty"`
	Message     string             `json:"message,omitempty"`
	Attestation *AttestationRecord `json:"attestation,omitempty"`
	Summary     *Summary           `json:"summary,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Event types emitted on the session stream.
const (
	EventStatus      = "status"
	EventLog         = "log"
	EventAttestation = "attestation"
	EventComplete    = "complete"
	EventError       = "error"
)

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("zkattest api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ZKAttest API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SubmitSession creates a new attestation session.
func (c *Client) SubmitSession(ctx context.Context, submission SessionSubmission) (Session, error) {
	var sess Session
	if err := c.post(ctx, "/api/v1/sessions", submission, &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// GetSession fetches session details by identifier.
func (c *Client) GetSession(ctx context.Context, sessionID string) (Session, error) {
	var sess Session
	if err := c.get(ctx, "/api/v1/sessions/"+url.PathEscape(sessionID), &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// ListSessions returns the most recently updated sessions.
func (c *Client) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	endpoint := "/api/v1/sessions"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var sessions []Session
	if err := c.get(ctx, endpoint, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// StreamEvents follows the NDJSON event stream of a session, invoking fn for
// every event in order. It returns when the server closes the stream (the
// session reached a terminal phase), fn returns an error, or ctx is done.
func (c *Client) StreamEvents(ctx context.Context, sessionID string, fn func(Event) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/events", nil)
	if err != nil {
		return err
	}

	// Streaming must not inherit the short default timeout.
	client := &http.Client{Transport: c.httpClient.Transport}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    string(bytes.TrimSpace(data)),
	}
}
