package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// Expected pins the details a payment authorization must satisfy. Nil fields
// are not checked.
type Expected struct {
	Amount    *big.Int
	Recipient string
	Token     string
}

// FacilitatorVerifyRequest is the body of POST /verify.
type FacilitatorVerifyRequest struct {
	PaymentPayload string                     `json:"paymentPayload"`
	PaymentDetails *FacilitatorPaymentDetails `json:"paymentDetails,omitempty"`
}

// FacilitatorPaymentDetails carries the expected transfer parameters for
// remote verification.
type FacilitatorPaymentDetails struct {
	Amount    string `json:"amount,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Token     string `json:"token,omitempty"`
}

// FacilitatorVerifyResponse is returned by POST /verify.
type FacilitatorVerifyResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// FacilitatorSettleRequest is the body of POST /settle.
type FacilitatorSettleRequest struct {
	PaymentPayload string `json:"paymentPayload"`
}

// FacilitatorSettleResponse is returned by POST /settle. Transaction carries
// the on-chain transaction hash when the transfer succeeded.
type FacilitatorSettleResponse struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Facilitator is the subset of the external payment facilitator API the
// verifier requires.
type Facilitator interface {
	VerifyPayment(ctx context.Context, payload string, details *FacilitatorPaymentDetails) (*FacilitatorVerifyResponse, error)
	SettlePayment(ctx context.Context, payload string) (*FacilitatorSettleResponse, error)
}

// HTTPFacilitatorClient implements Facilitator against the HTTP API.
type HTTPFacilitatorClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPFacilitatorClient constructs a facilitator client with an explicit
// request timeout so a stalled facilitator cannot hang a payment operation.
func NewHTTPFacilitatorClient(baseURL, apiKey string) *HTTPFacilitatorClient {
	return &HTTPFacilitatorClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPFacilitatorClient) VerifyPayment(ctx context.Context, payload string, details *FacilitatorPaymentDetails) (*FacilitatorVerifyResponse, error) {
	var resp FacilitatorVerifyResponse
	req := FacilitatorVerifyRequest{PaymentPayload: payload, PaymentDetails: details}
	if err := c.doRequest(ctx, "/verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPFacilitatorClient) SettlePayment(ctx context.Context, payload string) (*FacilitatorSettleResponse, error) {
	var resp FacilitatorSettleResponse
	req := FacilitatorSettleRequest{PaymentPayload: payload}
	if err := c.doRequest(ctx, "/settle", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPFacilitatorClient) doRequest(ctx context.Context, path string, payload, out interface{}) error {
	if c == nil {
		return fmt.Errorf("facilitator client not configured")
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("facilitator %s failed: status=%d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func expectedDetails(expected Expected) *FacilitatorPaymentDetails {
	details := &FacilitatorPaymentDetails{
		Recipient: expected.Recipient,
		Token:     expected.Token,
	}
	if expected.Amount != nil {
		details.Amount = expected.Amount.String()
	}
	if details.Amount == "" && details.Recipient == "" && details.Token == "" {
		return nil
	}
	return details
}
