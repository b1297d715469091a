package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"

	"linkdrop/internal/service"
)

const (
	acsAPIVersion          = "2023-03-31"
	defaultACSPollInterval = time.Second
	defaultACSPollTimeout  = 2 * time.Minute
)

// ACS operation states.
const (
	statusNotStarted = "NotStarted"
	statusRunning    = "Running"
	statusSucceeded  = "Succeeded"
	statusFailed     = "Failed"
	statusCanceled   = "Canceled"
)

var ErrInvalidConnectionString = errors.New("invalid ACS connection string")

// ACSSender sends email through the Azure Communication Services Email REST API.
// Send is asynchronous on the Azure side; Notify waits for the operation to finish.
type ACSSender struct {
	client       *http.Client
	endpoint     *url.URL
	key          []byte
	from         string
	pollInterval time.Duration
	pollTimeout  time.Duration
	now          func() time.Time
}

var _ service.Notifier = (*ACSSender)(nil)

type ACSOption func(*ACSSender)

func WithHTTPClient(c *http.Client) ACSOption {
	return func(s *ACSSender) { s.client = c }
}

// WithPollInterval sets the wait between status polls when the service sends no Retry-After.
func WithPollInterval(d time.Duration) ACSOption {
	return func(s *ACSSender) { s.pollInterval = d }
}

func WithPollTimeout(d time.Duration) ACSOption {
	return func(s *ACSSender) {
		if d > 0 {
			s.pollTimeout = d
		}
	}
}

// ParseConnectionString splits "endpoint=https://...;accesskey=..." into its parts.
func ParseConnectionString(cs string) (*url.URL, []byte, error) {
	var endpoint, accessKey string
	for _, part := range strings.Split(cs, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.ToLower(k) {
		case "endpoint":
			endpoint = v
		case "accesskey":
			accessKey = v
		}
	}
	if endpoint == "" || accessKey == "" {
		return nil, nil, fmt.Errorf("%w: endpoint and accesskey are required", ErrInvalidConnectionString)
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, nil, fmt.Errorf("%w: bad endpoint %q", ErrInvalidConnectionString, endpoint)
	}
	key, err := base64.StdEncoding.DecodeString(accessKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: accesskey is not base64", ErrInvalidConnectionString)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u, key, nil
}

func NewACSSender(connectionString, from string, opts ...ACSOption) (*ACSSender, error) {
	endpoint, key, err := ParseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}
	if from == "" {
		return nil, fmt.Errorf("sender address is required")
	}
	s := &ACSSender{
		client:       &http.Client{Timeout: 30 * time.Second},
		endpoint:     endpoint,
		key:          key,
		from:         from,
		pollInterval: defaultACSPollInterval,
		pollTimeout:  defaultACSPollTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type acsAddress struct {
	Address string `json:"address"`
}

type acsEmail struct {
	SenderAddress string `json:"senderAddress"`
	Recipients    struct {
		To []acsAddress `json:"to"`
	} `json:"recipients"`
	Content struct {
		Subject   string `json:"subject"`
		PlainText string `json:"plainText"`
	} `json:"content"`
}

type acsOperation struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type acsErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Notify sends a plain-text email and blocks until Azure reports the outcome.
// It returns the ACS operation id.
func (s *ACSSender) Notify(ctx context.Context, to, subject, body string) (string, error) {
	var email acsEmail
	email.SenderAddress = s.from
	email.Recipients.To = []acsAddress{{Address: to}}
	email.Content.Subject = subject
	email.Content.PlainText = body

	payload, err := json.Marshal(email)
	if err != nil {
		return "", err
	}

	sendURL := *s.endpoint
	sendURL.Path += "/emails:send"
	sendURL.RawQuery = url.Values{"api-version": {acsAPIVersion}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendURL.String(), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if id, err := uuid.NewV4(); err == nil {
		req.Header.Set("x-ms-client-request-id", id.String())
		req.Header.Set("Operation-Id", id.String())
	}
	s.sign(req, payload)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("acs send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("acs send: %w", readACSError(resp))
	}

	var op acsOperation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return "", fmt.Errorf("acs send: failed to parse response: %w", err)
	}

	location := resp.Header.Get("Operation-Location")
	if op.Status == statusSucceeded || location == "" {
		return op.ID, operationError(op)
	}
	return s.wait(ctx, location, op, retryAfter(resp.Header, s.pollInterval))
}

func (s *ACSSender) wait(ctx context.Context, location string, op acsOperation, delay time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.pollTimeout)
	defer cancel()

	for {
		if op.Status != statusNotStarted && op.Status != statusRunning && op.Status != "" {
			return op.ID, operationError(op)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return op.ID, fmt.Errorf("acs send: waiting for operation %s: %w", op.ID, ctx.Err())
		case <-timer.C:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return op.ID, err
		}
		s.sign(req, nil)

		resp, err := s.client.Do(req)
		if err != nil {
			return op.ID, fmt.Errorf("acs poll: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			err := readACSError(resp)
			resp.Body.Close()
			return op.ID, fmt.Errorf("acs poll: %w", err)
		}
		var next acsOperation
		err = json.NewDecoder(resp.Body).Decode(&next)
		resp.Body.Close()
		if err != nil {
			return op.ID, fmt.Errorf("acs poll: failed to parse response: %w", err)
		}
		if next.ID == "" {
			next.ID = op.ID
		}
		op = next
		delay = retryAfter(resp.Header, s.pollInterval)
	}
}

func operationError(op acsOperation) error {
	switch op.Status {
	case statusSucceeded, "":
		return nil
	case statusFailed, statusCanceled:
		if op.Error != nil {
			return fmt.Errorf("acs send %s: %s: %s", strings.ToLower(op.Status), op.Error.Code, op.Error.Message)
		}
		return fmt.Errorf("acs send %s", strings.ToLower(op.Status))
	default:
		return fmt.Errorf("acs send: unexpected status %q", op.Status)
	}
}

// sign applies the HMAC-SHA256 scheme ACS uses for access-key authentication.
func (s *ACSSender) sign(req *http.Request, body []byte) {
	sum := sha256.Sum256(body)
	contentHash := base64.StdEncoding.EncodeToString(sum[:])
	date := s.now().UTC().Format(http.TimeFormat)

	stringToSign := req.Method + "\n" + req.URL.RequestURI() + "\n" + date + ";" + req.URL.Host + ";" + contentHash
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("x-ms-date", date)
	req.Header.Set("x-ms-content-sha256", contentHash)
	req.Header.Set("Authorization", "HMAC-SHA256 SignedHeaders=x-ms-date;host;x-ms-content-sha256&Signature="+signature)
}

func retryAfter(h http.Header, fallback time.Duration) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

func readACSError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var e acsErrorResponse
	if err := json.Unmarshal(data, &e); err == nil && e.Error.Code != "" {
		return fmt.Errorf("status %d: %s: %s", resp.StatusCode, e.Error.Code, e.Error.Message)
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
}
