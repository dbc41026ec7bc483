// Package cryptogram turns raw card fields into the encrypted packet the
// intent API accepts in place of a PAN. The merchant public key is fetched
// once per session; without it the card rail is unavailable.
package cryptogram

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// packetFormat tags the packet layout so the server can route decoding.
const packetFormat = "02"

// ErrPublicKey signals an unusable merchant key.
var ErrPublicKey = errors.New("cryptogram: invalid public key")

// Encoder builds card cryptograms with a merchant RSA key.
type Encoder struct {
	key     *rsa.PublicKey
	version int
}

// NewEncoder parses the PEM key delivered by the public key endpoint.
func NewEncoder(pemData string, version int) (*Encoder, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("%w: no pem block", ErrPublicKey)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublicKey, err)
	}
	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an rsa key", ErrPublicKey)
	}
	return &Encoder{key: rsaKey, version: version}, nil
}

// KeyVersion reports the key version baked into produced packets.
func (e *Encoder) KeyVersion() int { return e.version }

// Encode validates the card and produces the opaque packet: a plaintext
// header binding BIN, last four digits, expiry and key version, followed by
// the RSA-encrypted secret block. The full PAN and CVV travel only inside
// the encrypted block.
func (e *Encoder) Encode(card Card, terminalID string, skipExpiry bool) (string, error) {
	if strings.TrimSpace(terminalID) == "" {
		return "", errors.New("cryptogram: terminal id is required")
	}
	if err := card.Validate(skipExpiry); err != nil {
		return "", err
	}
	firstSix, err := card.FirstSix()
	if err != nil {
		return "", err
	}
	lastFour, err := card.LastFour()
	if err != nil {
		return "", err
	}

	secret := strings.Join([]string{CleanNumber(card.Number), card.expMMYY(), card.CVV, terminalID}, "@")
	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, e.key, []byte(secret))
	if err != nil {
		return "", fmt.Errorf("cryptogram: encrypt: %w", err)
	}

	packet := strings.Join([]string{
		packetFormat,
		firstSix + lastFour,
		card.expMMYY(),
		fmt.Sprintf("%d", e.version),
		base64.StdEncoding.EncodeToString(encrypted),
	}, ":")
	return base64.StdEncoding.EncodeToString([]byte(packet)), nil
}
