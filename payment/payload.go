package payment

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/btcsuite/btcutil/base58"
)

// Authorization is a signed, time-boxed intent to transfer funds. The payer
// signs the canonical JSON rendering of every field except the signature; the
// facilitator enforces single use, so the struct carries no replay state.
type Authorization struct {
	Payer        string `json:"payer"`
	Recipient    string `json:"recipient"`
	Amount       string `json:"amount"`
	TokenAddress string `json:"tokenAddress"`
	NetworkID    string `json:"networkId"`
	ValidUntil   int64  `json:"validUntil"`
	Memo         string `json:"memo,omitempty"`
	Signature    string `json:"signature"`
}

// AmountUnits parses the authorization amount as an integer count of minor
// units. Amounts are compared as big integers end to end; floats never enter
// the money path.
func (a *Authorization) AmountUnits() (*big.Int, error) {
	if a == nil {
		return nil, fmt.Errorf("payment: nil authorization")
	}
	trimmed := strings.TrimSpace(a.Amount)
	if trimmed == "" {
		return nil, fmt.Errorf("payment: amount required")
	}
	units, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("payment: invalid amount %q", a.Amount)
	}
	if units.Sign() < 0 {
		return nil, fmt.Errorf("payment: negative amount %q", a.Amount)
	}
	return units, nil
}

// ExpiresAt returns the authorization deadline as a time.
func (a *Authorization) ExpiresAt() time.Time {
	return time.Unix(a.ValidUntil, 0).UTC()
}

// Clone returns a copy of the authorization so callers can mutate it without
// affecting the decoded original.
func (a *Authorization) Clone() *Authorization {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// canonicalFields mirrors Authorization minus the signature. Field order is
// fixed by the struct definition, which makes json.Marshal deterministic and
// lets both sides recompute identical signing bytes.
type canonicalFields struct {
	Payer        string `json:"payer"`
	Recipient    string `json:"recipient"`
	Amount       string `json:"amount"`
	TokenAddress string `json:"tokenAddress"`
	NetworkID    string `json:"networkId"`
	ValidUntil   int64  `json:"validUntil"`
	Memo         string `json:"memo,omitempty"`
}

// CanonicalBytes renders the UTF-8 JSON signing message for the authorization.
func (a *Authorization) CanonicalBytes() ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("payment: nil authorization")
	}
	return json.Marshal(canonicalFields{
		Payer:        a.Payer,
		Recipient:    a.Recipient,
		Amount:       a.Amount,
		TokenAddress: a.TokenAddress,
		NetworkID:    a.NetworkID,
		ValidUntil:   a.ValidUntil,
		Memo:         a.Memo,
	})
}

// DecodeWallet interprets a wallet address as a base58-encoded Ed25519 public
// key.
func DecodeWallet(wallet string) (ed25519.PublicKey, error) {
	trimmed := strings.TrimSpace(wallet)
	if trimmed == "" {
		return nil, fmt.Errorf("payment: wallet required")
	}
	raw := base58.Decode(trimmed)
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("payment: wallet %q is not a %d-byte key", wallet, ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// Decode unpacks a base64 wire payload into an authorization. Both the base64
// envelope and the JSON body must parse; anything else is an invalid payload.
func Decode(payload string) (*Authorization, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return nil, fmt.Errorf("payment: empty payload")
	}
	raw, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("payment: payload is not base64: %w", err)
	}
	auth := &Authorization{}
	if err := json.Unmarshal(raw, auth); err != nil {
		return nil, fmt.Errorf("payment: payload is not valid JSON: %w", err)
	}
	if strings.TrimSpace(auth.Payer) == "" || strings.TrimSpace(auth.Recipient) == "" {
		return nil, fmt.Errorf("payment: payer and recipient required")
	}
	if _, err := auth.AmountUnits(); err != nil {
		return nil, err
	}
	return auth, nil
}

// Encode renders an authorization into its base64 wire form.
func Encode(auth *Authorization) (string, error) {
	if auth == nil {
		return "", fmt.Errorf("payment: nil authorization")
	}
	raw, err := json.Marshal(auth)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Sign computes and attaches the payer signature. Intended for clients and
// tests; the service itself only ever verifies.
func Sign(auth *Authorization, key ed25519.PrivateKey) error {
	if auth == nil {
		return fmt.Errorf("payment: nil authorization")
	}
	if len(key) != ed25519.PrivateKeySize {
		return fmt.Errorf("payment: private key must be %d bytes", ed25519.PrivateKeySize)
	}
	message, err := auth.CanonicalBytes()
	if err != nil {
		return err
	}
	auth.Signature = base58.Encode(ed25519.Sign(key, message))
	return nil
}

// verifySignature checks the payer's Ed25519 signature over the canonical
// message.
func verifySignature(auth *Authorization) (bool, error) {
	if auth == nil {
		return false, fmt.Errorf("payment: nil authorization")
	}
	pub, err := DecodeWallet(auth.Payer)
	if err != nil {
		return false, err
	}
	sig := base58.Decode(strings.TrimSpace(auth.Signature))
	if len(sig) != ed25519.SignatureSize {
		return false, nil
	}
	message, err := auth.CanonicalBytes()
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pub, message, sig), nil
}
