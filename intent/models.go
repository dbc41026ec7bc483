package intent

// Rail identifies a payment method class supported by the intent API.
type Rail string

const (
	RailCard    Rail = "Card"
	RailSBP     Rail = "Sbp"
	RailSberPay Rail = "SberPay"
	RailTPay    Rail = "TinkoffPay"
)

// Schema selects between single- and dual-message card processing.
type Schema string

const (
	SchemaSingle Schema = "SingleStage"
	SchemaDual   Schema = "DoubleStage"
)

// TransactionStatus values reported per transaction by the intent API.
const (
	StatusAuthorized = "Authorized"
	StatusCompleted  = "Completed"
	StatusDeclined   = "Declined"
	StatusCancelled  = "Cancelled"
)

// Intent-level wait statuses.
const (
	WaitStatusRequiresPaymentMethod = "RequiresPaymentMethod"
	WaitStatusSucceeded             = "Succeeded"
)

// PaymentIntent is the server-owned checkout resource. Id and Secret are
// assigned at creation and must accompany every subsequent call that
// references the intent.
type PaymentIntent struct {
	ID                 string          `json:"id"`
	Secret             string          `json:"secret"`
	Status             string          `json:"status"`
	Amount             float64         `json:"amount"`
	Currency           string          `json:"currency"`
	Culture            string          `json:"culture"`
	PaymentSchema      string          `json:"paymentSchema"`
	Tokenize           *bool           `json:"tokenize"`
	ReceiptEmail       string          `json:"receiptEmail"`
	SuccessRedirectURL string          `json:"successRedirectUrl"`
	FailRedirectURL    string          `json:"failRedirectUrl"`
	ThreeDsCallbackID  string          `json:"threeDsCallbackId"`
	AcsURL             string          `json:"acsUrl"`
	PaReq              string          `json:"paReq"`
	Transaction        *Transaction    `json:"transaction"`
	Transactions       []Transaction   `json:"transactions"`
	PaymentMethods     []PaymentMethod `json:"paymentMethods"`
	TerminalInfo       *TerminalInfo   `json:"terminalInfo"`
}

// Transaction is one payment attempt recorded against an intent. Puid is the
// client-generated correlation id that ties broadcast status updates back to
// the attempt that created them.
type Transaction struct {
	TransactionID int64  `json:"transactionId"`
	PaymentMethod string `json:"paymentMethod"`
	Puid          string `json:"puid"`
	Status        string `json:"status"`
	Code          string `json:"code"`
}

// TransactionStatus is the intent-wide polling payload: the intent status plus
// every transaction the server knows about, not just ours.
type TransactionStatus struct {
	Status       string        `json:"status"`
	Transactions []Transaction `json:"transactions"`
}

// PaymentMethod describes one rail the intent can be paid through.
type PaymentMethod struct {
	Type     string  `json:"type"`
	Link     string  `json:"link"`
	Data     string  `json:"data"`
	DeepLink string  `json:"deepLink"`
	MinSum   float64 `json:"minSum"`
	MaxSum   float64 `json:"maxSum"`
	Banks    []Bank  `json:"banks"`
}

// Bank is an SBP bank directory entry.
type Bank struct {
	BankName        string `json:"bankName"`
	LogoURL         string `json:"logoUrl"`
	Schema          string `json:"schema"`
	WebClientURL    string `json:"webClientUrl"`
	IsWebClientUsed string `json:"isWebClientActive"`
}

// WebClient reports whether the bank should be opened through its web client
// rather than an installed app.
func (b Bank) WebClient() bool { return b.IsWebClientUsed == "true" }

// TerminalInfo carries merchant terminal feature flags.
type TerminalInfo struct {
	TerminalName         string    `json:"terminalName"`
	TerminalURL          string    `json:"terminalUrl"`
	TerminalFullURL      string    `json:"terminalFullUrl"`
	IsTest               bool      `json:"isTest"`
	IsCvvRequired        *bool     `json:"isCvvRequired"`
	SkipExpiryValidation bool      `json:"skipExpiryValidation"`
	AgreementPath        string    `json:"agreementPath"`
	Features             *Features `json:"features"`
}

// Features is the terminal feature-flag block.
type Features struct {
	IsSaveCard string `json:"isSaveCard"`
}

// Save-card modes advertised through TerminalInfo features.
const (
	SaveCardOptional = "Optional"
	SaveCardForce    = "Force"
)

// PublicKey is the merchant RSA key used for cryptogram creation.
type PublicKey struct {
	Pem     string `json:"Pem"`
	Version int    `json:"Version"`
}

// BankInfo is best-effort BIN metadata for the entered card.
type BankInfo struct {
	BankName        string  `json:"bankName"`
	LogoURL         string  `json:"logoUrl"`
	IsCardAllowed   *bool   `json:"isCardAllowed"`
	ConvertedAmount string  `json:"convertedAmount"`
	Currency        string  `json:"currency"`
	HideCvvInput    bool    `json:"hideCvvInput"`
	Amount          float64 `json:"amount"`
}

// RailLinkResult is the payload of a rail link request. Depending on the rail
// the server answers with a bare deeplink, a web client URL or a structured
// SberPay document; all shapes collapse into this one.
type RailLinkResult struct {
	Link         string   `json:"link"`
	QrURL        string   `json:"qrUrl"`
	DeepLink     string   `json:"deepLink"`
	Status       string   `json:"status"`
	Message      string   `json:"message"`
	IsTest       bool     `json:"isTest"`
	RedirectURLs []string `json:"redirectUrls"`
	Banks        []Bank   `json:"banks"`
}

// BestURL picks the most specific URL the server offered.
func (r RailLinkResult) BestURL() string {
	switch {
	case r.DeepLink != "":
		return r.DeepLink
	case r.Link != "":
		return r.Link
	case r.QrURL != "":
		return r.QrURL
	}
	return ""
}

// MerchantConfiguration mirrors the terminal configuration endpoint: which
// external rails the merchant has enabled and where the terminal lives.
type MerchantConfiguration struct {
	TerminalURL      string
	IsTest           bool
	TPayEnabled      bool
	SBPEnabled       bool
	SberPayEnabled   bool
	SkipExpiryChecks bool
}

type merchantConfigurationEnvelope struct {
	Model struct {
		TerminalFullURL        string `json:"terminalFullUrl"`
		IsTest                 bool   `json:"isTest"`
		SkipExpiryValidation   bool   `json:"skipExpiryValidation"`
		ExternalPaymentMethods []struct {
			Type    string `json:"type"`
			Enabled bool   `json:"enabled"`
		} `json:"externalPaymentMethods"`
	} `json:"Model"`
	Success bool `json:"Success"`
}

// Payer identifies the person paying; all fields are optional.
type Payer struct {
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	MiddleName string `json:"middleName,omitempty"`
	Birth      string `json:"birth,omitempty"`
	Address    string `json:"address,omitempty"`
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Postcode   string `json:"postcode,omitempty"`
}

// CreateParams describes a new payment intent.
type CreateParams struct {
	TerminalPublicID   string
	Amount             string
	Currency           string
	Culture            string
	Schema             Schema
	Email              string
	AccountID          string
	Description        string
	SuccessRedirectURL string
	FailRedirectURL    string
	Payer              *Payer
	Metadata           map[string]any
}

// PayParams drives the charge/auth call for the card rail. The pay endpoint
// authenticates by intent id alone; no secret travels with the charge.
type PayParams struct {
	IntentID   string
	Cryptogram string
}
