// Package threeds drives the ACS redirect dance for card payments that
// require 3-D Secure step-up: it posts the challenge request, hands the
// response document to a rendering surface and watches navigation events for
// the termination callback URL.
package threeds

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Fixed redirect anchors baked into the MD metadata blob. The ACS bounces the
// browser here; actual completion detection happens on the termination URL.
const (
	mdSuccessURL = "https://cp.ru"
	mdFailURL    = "https://cp.ru"
)

// Messages for failure paths without a merchant code.
const (
	genericFailureCode = "Операция не может быть обработана"
	parseErrorCode     = "JSON Parse Error"
)

// State of one challenge.
type State int

const (
	StateIdle State = iota
	StateChallengeRequested
	StateChallengeRendering
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChallengeRequested:
		return "challenge_requested"
	case StateChallengeRendering:
		return "challenge_rendering"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Data identifies one ACS challenge.
type Data struct {
	TransactionID string
	PaReq         string
	AcsURL        string
	CallbackID    string
}

// Document is the rendered challenge page: raw bytes plus the metadata the
// surface needs to display them.
type Document struct {
	Body     []byte
	MIMEType string
	Encoding string
	BaseURL  string
}

// Surface displays challenge documents and is expected to report navigation
// events back through Challenge.HandleNavigation. It is owned by the
// embedding orchestrator.
type Surface interface {
	Load(doc Document)
}

// Result is the single terminal outcome of a challenge.
type Result struct {
	Success    bool
	Code       string
	Cancelled  bool
	ParseError bool
}

// Challenge runs one 3DS authorization. Exactly one of the terminal paths
// (HandleNavigation match, Cancel) invokes the done callback; later
// navigation events are ignored.
type Challenge struct {
	data       Data
	termURL    string
	httpClient *http.Client
	surface    Surface
	done       func(Result)
	log        zerolog.Logger

	mu    sync.Mutex
	state State
}

// Option customises a Challenge.
type Option func(*Challenge)

// WithHTTPClient replaces the client used for the ACS post.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Challenge) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Challenge) { c.log = log }
}

// New builds a challenge for the given intent. done receives the terminal
// result exactly once.
func New(data Data, intentBaseURL, intentID string, surface Surface, done func(Result), opts ...Option) *Challenge {
	c := &Challenge{
		data:       data,
		termURL:    TermURL(intentBaseURL, intentID),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		surface:    surface,
		done:       done,
		log:        zerolog.Nop(),
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TermURL is the fixed termination callback address for an intent.
func TermURL(intentBaseURL, intentID string) string {
	return fmt.Sprintf("%s/api/intent/%s/threeDsResult", strings.TrimRight(intentBaseURL, "/"), intentID)
}

// State reports the current challenge state.
func (c *Challenge) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Begin posts the challenge request to the ACS and, on 2xx, hands the
// response document to the surface. A returned error means the challenge
// never started rendering; the done callback has not fired and the caller
// owns the failure.
func (c *Challenge) Begin(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("threeds: begin in state %s", c.state)
	}
	c.state = StateChallengeRequested
	c.mu.Unlock()

	md, err := c.metadataBlob()
	if err != nil {
		c.fail()
		return fmt.Errorf("threeds: metadata: %w", err)
	}

	// The ACS expects a classic form post; plus signs in base64 payloads
	// must survive the form encoding.
	form := fmt.Sprintf("MD=%s&PaReq=%s&TermUrl=%s", md, c.data.PaReq, c.termURL)
	form = strings.ReplaceAll(form, "+", "%2B")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.data.AcsURL, strings.NewReader(form))
	if err != nil {
		c.fail()
		return fmt.Errorf("threeds: acs request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.fail()
		return fmt.Errorf("threeds: acs post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.fail()
		return fmt.Errorf("threeds: acs status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.fail()
		return fmt.Errorf("threeds: acs body: %w", err)
	}

	c.mu.Lock()
	c.state = StateChallengeRendering
	c.mu.Unlock()

	mime := resp.Header.Get("Content-Type")
	encoding := ""
	if parts := strings.SplitN(mime, "charset=", 2); len(parts) == 2 {
		encoding = strings.Trim(parts[1], "; ")
		mime = strings.Trim(strings.SplitN(parts[0], ";", 2)[0], "; ")
	}
	c.log.Debug().Str("acs_url", c.data.AcsURL).Str("transaction_id", c.data.TransactionID).Msg("3ds challenge rendering")
	c.surface.Load(Document{Body: body, MIMEType: mime, Encoding: encoding, BaseURL: c.data.AcsURL})
	return nil
}

// HandleNavigation is called by the embedding orchestrator for every
// navigation the surface performs. document is the rendered page text of the
// destination. Only the first navigation matching the termination URL is
// processed; the return value reports whether this call resolved the
// challenge.
func (c *Challenge) HandleNavigation(navURL, document string) bool {
	if navURL != c.termURL {
		return false
	}

	c.mu.Lock()
	if c.state != StateChallengeRendering {
		c.mu.Unlock()
		return false
	}
	// Claim the terminal transition before parsing so a racing duplicate
	// navigation is a no-op.
	c.state = StateCompleted
	c.mu.Unlock()

	result := parseResult(document)
	c.mu.Lock()
	if !result.Success {
		c.state = StateFailed
	}
	c.mu.Unlock()

	c.done(result)
	return true
}

// Cancel force-fails the challenge on user-initiated close. No network call
// is issued; a no-op when already terminal.
func (c *Challenge) Cancel() {
	c.mu.Lock()
	if c.state == StateCompleted || c.state == StateFailed {
		c.mu.Unlock()
		return
	}
	c.state = StateFailed
	c.mu.Unlock()
	c.done(Result{Cancelled: true})
}

func (c *Challenge) fail() {
	c.mu.Lock()
	c.state = StateFailed
	c.mu.Unlock()
}

// metadataBlob builds the base64 MD parameter binding the transaction to the
// callback id and redirect anchors. Keys are sorted by json.Marshal's map
// ordering, matching the server's expectation.
func (c *Challenge) metadataBlob() (string, error) {
	payload, err := json.Marshal(map[string]string{
		"TransactionId":     c.data.TransactionID,
		"ThreeDsCallbackId": c.data.CallbackID,
		"SuccessUrl":        mdSuccessURL,
		"FailUrl":           mdFailURL,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}

// parseResult locates the first top-level JSON object in the rendered
// document, tolerating surrounding HTML, and decodes the embedded outcome.
func parseResult(document string) Result {
	start := strings.Index(document, "{")
	end := strings.LastIndex(document, "}")
	if start < 0 || end < start {
		return Result{ParseError: true, Code: parseErrorCode}
	}
	raw := document[start : end+1]

	var decoded struct {
		Data *struct {
			Success bool   `json:"success"`
			Code    string `json:"code"`
		} `json:"data"`
	}
	if err := json.Unmarshal(bytes.TrimSpace([]byte(raw)), &decoded); err != nil || decoded.Data == nil {
		return Result{ParseError: true, Code: parseErrorCode}
	}
	if decoded.Data.Success {
		return Result{Success: true}
	}
	code := decoded.Data.Code
	if code == "" {
		code = genericFailureCode
	}
	return Result{Code: code}
}
