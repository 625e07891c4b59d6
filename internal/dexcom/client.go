package dexcom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// applicationID is the fixed Share application id used by third-party
	// publisher clients.
	applicationID = "d89443d2-327c-4a6f-89e5-496bbb0317db"

	authenticatePath = "/ShareWebServices/Services/General/AuthenticatePublisherAccount"
	loginByIDPath    = "/ShareWebServices/Services/General/LoginPublisherAccountById"
	readGlucosePath  = "/ShareWebServices/Services/Publisher/ReadPublisherLatestGlucoseValues"
)

// Hard refusal codes from the Share API. Anything listed here means the
// account cannot be polled again without user action.
var hardErrorCodes = map[string]bool{
	"AccountPasswordInvalid":              true,
	"SSO_AuthenticateAccountNotFound":     true,
	"SSO_AuthenticatePasswordInvalid":     true,
	"SSO_AuthenticateMaxAttemptsExceeed":  true,
	"SSO_AuthenticateMaxAttemptsExceeded": true,
	"AccountDisabled":                     true,
}

var sessionErrorCodes = map[string]bool{
	"SessionIdNotFound": true,
	"SessionNotValid":   true,
}

// Client is an HTTP client for the Dexcom Share publisher API.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	// baseURL overrides the per-location host when set. Tests use it to
	// point the client at a local server.
	baseURL string
}

// ClientOptions configures the Share client.
type ClientOptions struct {
	Timeout             time.Duration
	MaxConns            int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// RequestsPerSecond caps the outbound request rate to the provider
	// across all activities. Zero means 10 rps.
	RequestsPerSecond float64
	Burst             int

	Logger *slog.Logger

	// BaseURL overrides the regional host. Leave empty in production.
	BaseURL string
}

// NewClient creates a new Share API client with connection pooling and a
// shared outbound rate limit.
func NewClient(opts ClientOptions) *Client {
	transport := &http.Transport{
		MaxIdleConns:        opts.MaxConns,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxConnsPerHost:     opts.MaxConns,
		IdleConnTimeout:     opts.IdleConnTimeout,
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 5
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
		baseURL: opts.BaseURL,
	}
}

// FetchRequest describes one poll for an account.
type FetchRequest struct {
	Location Location
	Username string
	Password string

	// AccountID and SessionID are reused from the previous poll when set.
	AccountID *uuid.UUID
	SessionID *uuid.UUID

	// Duration is the history window to request.
	Duration time.Duration
}

// FetchResult carries the readings of one poll, ordered by timestamp
// ascending. AccountID and SessionID are set only when the client performed
// a login during the call; callers must persist them to avoid re-login
// storms.
type FetchResult struct {
	Readings  []Reading
	AccountID *uuid.UUID
	SessionID *uuid.UUID
}

// Fetch retrieves the latest glucose readings for the account. It logs in
// when no session is available and retries once on an expired session.
func (c *Client) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	result := &FetchResult{}

	sessionID := req.SessionID
	if sessionID == nil {
		accountID, newSession, err := c.login(ctx, req)
		if err != nil {
			return nil, err
		}
		result.AccountID = accountID
		result.SessionID = newSession
		sessionID = newSession
	}

	readings, err := c.readGlucose(ctx, req.Location, *sessionID, req.Duration)
	var sessErr *sessionError
	if errors.As(err, &sessErr) {
		accountID, newSession, loginErr := c.login(ctx, req)
		if loginErr != nil {
			return nil, loginErr
		}
		result.AccountID = accountID
		result.SessionID = newSession

		readings, err = c.readGlucose(ctx, req.Location, *newSession, req.Duration)
	}
	if err != nil {
		// A session failure right after a fresh login means the account
		// state is broken upstream; stop retrying it.
		if errors.As(err, &sessErr) {
			return nil, &HardError{Code: sessErr.code, Message: "session rejected after login"}
		}
		return nil, err
	}

	result.Readings = readings
	return result, nil
}

// login resolves an account id (authenticating with username/password when
// necessary) and opens a fresh session for it.
func (c *Client) login(ctx context.Context, req FetchRequest) (*uuid.UUID, *uuid.UUID, error) {
	if req.Password == "" {
		return nil, nil, &HardError{Code: "MissingCredentials", Message: "no session and no credentials to log in with"}
	}

	accountID := req.AccountID
	if accountID == nil {
		if req.Username == "" {
			return nil, nil, &HardError{Code: "MissingCredentials", Message: "no account id and no username"}
		}
		id, err := c.postForUUID(ctx, req.Location, authenticatePath, map[string]string{
			"accountName":   req.Username,
			"password":      req.Password,
			"applicationId": applicationID,
		})
		if err != nil {
			return nil, nil, err
		}
		accountID = id
	}

	sessionID, err := c.postForUUID(ctx, req.Location, loginByIDPath, map[string]string{
		"accountId":     accountID.String(),
		"password":      req.Password,
		"applicationId": applicationID,
	})
	if err != nil {
		return nil, nil, err
	}

	c.logger.Debug("dexcom session opened", "location", string(req.Location))
	return accountID, sessionID, nil
}

// readGlucose calls ReadPublisherLatestGlucoseValues and returns readings
// ordered ascending by timestamp.
func (c *Client) readGlucose(ctx context.Context, location Location, sessionID uuid.UUID, window time.Duration) ([]Reading, error) {
	minutes := int(window.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	// One reading every five minutes, plus slack for clock skew.
	maxCount := minutes/5 + 1

	url := fmt.Sprintf("%s%s?sessionId=%s&minutes=%d&maxCount=%d",
		c.base(location), readGlucosePath, sessionID.String(), minutes, maxCount)

	body, err := c.post(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	var wire []struct {
		WT    string `json:"WT"`
		Value int    `json:"Value"`
		Trend Trend  `json:"Trend"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &DecodingError{StatusCode: http.StatusOK, Body: body}
	}

	readings := make([]Reading, 0, len(wire))
	for _, w := range wire {
		date, err := parseWireDate(w.WT)
		if err != nil {
			return nil, &DecodingError{StatusCode: http.StatusOK, Body: body}
		}
		readings = append(readings, Reading{
			Date:  date,
			Value: w.Value,
			Trend: w.Trend,
		})
	}

	sort.Slice(readings, func(i, j int) bool {
		return readings[i].Date.Before(readings[j].Date)
	})

	return readings, nil
}

// postForUUID posts a JSON body and decodes the quoted UUID the Share login
// endpoints respond with.
func (c *Client) postForUUID(ctx context.Context, location Location, path string, payload map[string]string) (*uuid.UUID, error) {
	body, err := c.post(ctx, c.base(location)+path, payload)
	if err != nil {
		return nil, err
	}

	var raw string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &DecodingError{StatusCode: http.StatusOK, Body: body}
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, &DecodingError{StatusCode: http.StatusOK, Body: body}
	}
	return &id, nil
}

// post sends one request and classifies failures per the upstream error
// taxonomy. A nil payload sends an empty body.
func (c *Client) post(ctx context.Context, url string, payload map[string]string) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "Dexcom Share/3.0.2.11")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, c.classifyError(resp.StatusCode, body)
	}

	return body, nil
}

// classifyError maps an HTTP error response onto the taxonomy the processor
// handles: hard refusal, invalid session, or undecodable response. 5xx
// bodies without a recognizable code stay generic so they get retried.
func (c *Client) classifyError(status int, body []byte) error {
	var apiErr struct {
		Code    string `json:"Code"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != "" {
		switch {
		case hardErrorCodes[apiErr.Code]:
			return &HardError{Code: apiErr.Code, Message: apiErr.Message}
		case sessionErrorCodes[apiErr.Code]:
			return &sessionError{code: apiErr.Code}
		}
	}

	if status >= 500 {
		return fmt.Errorf("dexcom server error: status %d", status)
	}
	return &DecodingError{StatusCode: status, Body: body}
}

// base returns the endpoint root for a location.
func (c *Client) base(location Location) string {
	if c.baseURL != "" {
		return c.baseURL
	}
	return "https://" + location.host()
}

// parseWireDate parses the WCF wire form "/Date(1609455600000)/", with or
// without the surrounding slashes and an optional timezone suffix.
func parseWireDate(s string) (time.Time, error) {
	start := strings.Index(s, "(")
	end := strings.LastIndex(s, ")")
	if start < 0 || end < start {
		return time.Time{}, fmt.Errorf("malformed wire date %q", s)
	}
	digits := s[start+1 : end]
	if digits == "" {
		return time.Time{}, fmt.Errorf("malformed wire date %q", s)
	}
	// Strip a timezone suffix like "+0000".
	if i := strings.IndexAny(digits[1:], "+-"); i >= 0 {
		digits = digits[:i+1]
	}
	ms, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed wire date %q: %w", s, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
