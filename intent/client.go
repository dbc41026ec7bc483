package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Default API hosts.
const (
	DefaultAPIBaseURL    = "https://api.cloudpayments.ru"
	DefaultIntentBaseURL = "https://intent-api.cloudpayments.ru"
)

const userAgent = "Mobile_SDK_Go"

// Telemetry receives one record per API exchange. It must never influence
// control flow; errors raised by implementations are not expected and not
// handled.
type Telemetry interface {
	APIRequest(method, url string, success bool)
}

type nopTelemetry struct{}

func (nopTelemetry) APIRequest(string, string, bool) {}

// Client is a typed, single-shot wrapper over the hosted intent API. It holds
// no mutable state: every operation builds a request, performs it once and
// decodes the body. Retries, polling and branching live with the callers.
type Client struct {
	httpClient *http.Client
	apiBase    string
	intentBase string
	publicID   string
	telemetry  Telemetry
	log        zerolog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBaseURLs overrides the API hosts. Empty values keep the defaults.
func WithBaseURLs(apiBase, intentBase string) Option {
	return func(c *Client) {
		if strings.TrimSpace(apiBase) != "" {
			c.apiBase = strings.TrimRight(apiBase, "/")
		}
		if strings.TrimSpace(intentBase) != "" {
			c.intentBase = strings.TrimRight(intentBase, "/")
		}
	}
}

// WithTelemetry installs the observability collaborator.
func WithTelemetry(t Telemetry) Option {
	return func(c *Client) {
		if t != nil {
			c.telemetry = t
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient builds a Client for the given merchant terminal.
func NewClient(publicID string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
		apiBase:    DefaultAPIBaseURL,
		intentBase: DefaultIntentBaseURL,
		publicID:   publicID,
		telemetry:  nopTelemetry{},
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PublicID returns the merchant terminal id the client was built for.
func (c *Client) PublicID() string { return c.publicID }

// IntentBaseURL returns the intent API host, used to derive the 3DS
// termination URL.
func (c *Client) IntentBaseURL() string { return c.intentBase }

// CreateIntent opens a new payment intent. Failure is fatal for the checkout
// session: without an intent no rail can proceed.
func (c *Client) CreateIntent(ctx context.Context, p CreateParams) (*PaymentIntent, error) {
	schema := p.Schema
	if schema == "" {
		schema = SchemaSingle
	}
	userInfo := map[string]any{"accountId": p.AccountID}
	if p.Payer != nil {
		userInfo["firstName"] = p.Payer.FirstName
		userInfo["lastName"] = p.Payer.LastName
		userInfo["middleName"] = p.Payer.MiddleName
		userInfo["address"] = p.Payer.Address
		userInfo["street"] = p.Payer.Street
		userInfo["city"] = p.Payer.City
		userInfo["country"] = p.Payer.Country
		userInfo["phone"] = p.Payer.Phone
		userInfo["postcode"] = p.Payer.Postcode
	}
	body := map[string]any{
		"publicTerminalId":   p.TerminalPublicID,
		"currency":           p.Currency,
		"paymentSchema":      string(schema),
		"culture":            p.Culture,
		"type":               "Default",
		"scenario":           "7",
		"amount":             p.Amount,
		"paymentUrl":         "cloudpayments://sdk.cp.ru",
		"receiptEmail":       p.Email,
		"description":        p.Description,
		"userInfo":           userInfo,
		"metadata":           p.Metadata,
		"successRedirectUrl": p.SuccessRedirectURL,
		"failRedirectUrl":    p.FailRedirectURL,
	}

	status, data, err := c.do(ctx, http.MethodPost, c.intentBase+"/api/intent", jsonBody(body), nil)
	if err != nil {
		return nil, fmt.Errorf("intent: create: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("intent: create: unexpected status %d", status)
	}
	var out PaymentIntent
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("intent: create: %w: %w", ErrParse, err)
	}
	return &out, nil
}

// PatchIntent applies a JSON-Patch document to the intent. Callers treat it as
// fire-and-forget: a failed patch must not block rail selection or payment
// submission.
func (c *Client) PatchIntent(ctx context.Context, id, secret string, ops []PatchOp) (*PaymentIntent, error) {
	if id == "" {
		return nil, errors.New("intent: patch: intent id is required")
	}
	payload, err := MarshalPatch(ops)
	if err != nil {
		return nil, fmt.Errorf("intent: patch: %w", err)
	}
	headers := map[string]string{"Content-Type": "application/json-patch+json"}
	if secret != "" {
		headers["Secret"] = secret
	}
	status, data, err := c.do(ctx, http.MethodPatch, c.intentBase+"/api/intent/"+id, payload, headers)
	if err != nil {
		return nil, fmt.Errorf("intent: patch: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("intent: patch: unexpected status %d", status)
	}
	var out PaymentIntent
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("intent: patch: %w: %w", ErrParse, err)
	}
	return &out, nil
}

// PublicKey fetches the merchant RSA key required before any cryptogram can
// be built. When it fails the card rail is unavailable for the session.
func (c *Client) PublicKey(ctx context.Context) (PublicKey, error) {
	status, data, err := c.do(ctx, http.MethodGet, c.apiBase+"/payments/publickey", nil, nil)
	if err != nil {
		return PublicKey{}, fmt.Errorf("intent: public key: %w", err)
	}
	if status != http.StatusOK {
		return PublicKey{}, fmt.Errorf("intent: public key: unexpected status %d", status)
	}
	var out PublicKey
	if err := json.Unmarshal(data, &out); err != nil {
		return PublicKey{}, fmt.Errorf("intent: public key: %w: %w", ErrParse, err)
	}
	if out.Pem == "" {
		return PublicKey{}, fmt.Errorf("intent: public key: empty pem")
	}
	return out, nil
}

// BinInfo fetches best-effort BIN metadata for the first six card digits.
// Errors are expected to be swallowed by the caller.
func (c *Client) BinInfo(ctx context.Context, intentID, firstSix string) (*BankInfo, error) {
	if len(firstSix) < 6 {
		return nil, errors.New("intent: bin info: at least the first 6 digits are required")
	}
	u := fmt.Sprintf("%s/api/intent/%s/bininfo?%s", c.intentBase, intentID, url.Values{
		"PaymentMethod": {"Card"},
		"Bin":           {firstSix[:6]},
	}.Encode())
	status, data, err := c.do(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("intent: bin info: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("intent: bin info: unexpected status %d", status)
	}
	var out BankInfo
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("intent: bin info: %w: %w", ErrParse, err)
	}
	return &out, nil
}

// Pay submits the card cryptogram against the intent. The HTTP status code is
// part of the contract: 202 means a 3DS challenge is required, 200 means the
// final status is already known, anything else is a decline. A transport
// failure returns status 0 and a non-nil error.
func (c *Client) Pay(ctx context.Context, p PayParams) (int, *PaymentIntent, error) {
	body := map[string]any{
		"Id":            p.IntentID,
		"PaymentMethod": "Card",
		"Cryptogram":    p.Cryptogram,
	}
	status, data, err := c.do(ctx, http.MethodPost, c.intentBase+"/api/intent/pay", jsonBody(body), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("intent: pay: %w", err)
	}
	var out PaymentIntent
	if err := json.Unmarshal(data, &out); err != nil {
		return status, nil, fmt.Errorf("intent: pay: %w: %w", ErrParse, err)
	}
	return status, &out, nil
}

// RailLink requests a redirect-rail deeplink. linkURL is the rail-specific
// absolute URL advertised by the intent's payment methods; puid is the
// caller-generated correlation id. 409 is the "order already paid" conflict
// and is surfaced via the status code, not an error.
func (c *Client) RailLink(ctx context.Context, linkURL, puid, schema string) (int, *RailLinkResult, error) {
	if strings.TrimSpace(linkURL) == "" {
		return 0, nil, errors.New("intent: rail link: link url is required")
	}
	u, err := url.Parse(linkURL)
	if err != nil {
		return 0, nil, fmt.Errorf("intent: rail link: %w", err)
	}
	q := u.Query()
	q.Set("webview", "false")
	q.Set("puid", puid)
	if schema != "" {
		q.Set("schema", schema)
	}
	u.RawQuery = q.Encode()

	status, data, err := c.do(ctx, http.MethodGet, u.String(), nil, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("intent: rail link: %w", err)
	}
	if status != http.StatusOK {
		return status, nil, nil
	}
	out, err := decodeRailLink(data)
	if err != nil {
		return status, nil, fmt.Errorf("intent: rail link: %w: %w", ErrParse, err)
	}
	return status, out, nil
}

// Status fetches the intent-wide transaction status; it is polling fuel. 200
// means keep polling, anything else tells the poller to stop.
func (c *Client) Status(ctx context.Context, intentID string) (int, *TransactionStatus, error) {
	status, data, err := c.do(ctx, http.MethodGet, c.intentBase+"/api/intent/"+intentID+"/status", nil, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("intent: status: %w", err)
	}
	if status != http.StatusOK {
		return status, nil, nil
	}
	var out TransactionStatus
	if err := json.Unmarshal(data, &out); err != nil {
		return status, nil, fmt.Errorf("intent: status: %w: %w", ErrParse, err)
	}
	return status, &out, nil
}

// MerchantConfiguration fetches the terminal's external payment method
// toggles. Best-effort: on failure callers fall back to hiding every rail
// button.
func (c *Client) MerchantConfiguration(ctx context.Context) (*MerchantConfiguration, error) {
	u := c.apiBase + "/merchant/configuration?" + url.Values{"terminalPublicId": {c.publicID}}.Encode()
	status, data, err := c.do(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("intent: merchant configuration: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("intent: merchant configuration: unexpected status %d", status)
	}
	var envelope merchantConfigurationEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("intent: merchant configuration: %w: %w", ErrParse, err)
	}
	out := &MerchantConfiguration{
		TerminalURL:      envelope.Model.TerminalFullURL,
		IsTest:           envelope.Model.IsTest,
		SkipExpiryChecks: envelope.Model.SkipExpiryValidation,
	}
	for _, method := range envelope.Model.ExternalPaymentMethods {
		switch Rail(method.Type) {
		case RailTPay:
			out.TPayEnabled = method.Enabled
		case RailSBP:
			out.SBPEnabled = method.Enabled
		case RailSberPay:
			out.SberPayEnabled = method.Enabled
		}
	}
	return out, nil
}

// decodeRailLink accepts both payload shapes the rail endpoints produce: a
// bare JSON string with the link, or a structured document.
func decodeRailLink(data []byte) (*RailLinkResult, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var link string
		if err := json.Unmarshal(trimmed, &link); err != nil {
			return nil, err
		}
		return &RailLinkResult{Link: link}, nil
	}
	var out RailLinkResult
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func jsonBody(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// do performs one HTTP exchange and reports it to telemetry. The returned
// status is 0 only when no response was received.
func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, headers map[string]string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		c.telemetry.APIRequest(method, rawURL, false)
		return 0, nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.telemetry.APIRequest(method, rawURL, false)
		c.log.Debug().Err(err).Str("method", method).Str("url", rawURL).Msg("api request failed")
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.telemetry.APIRequest(method, rawURL, false)
		return resp.StatusCode, nil, err
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	c.telemetry.APIRequest(method, rawURL, ok)
	c.log.Debug().
		Str("method", method).
		Str("url", rawURL).
		Int("status", resp.StatusCode).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("api request")
	return resp.StatusCode, data, nil
}
