package payment

// Code identifies the outcome of a payment operation. Codes cross the core
// boundary verbatim so callers can branch on them without string matching
// error text.
type Code string

const (
	// Payment errors: the client supplied a malformed or inadequate
	// authorization. Surfaced verbatim to the caller.
	CodeInvalidPayload     Code = "INVALID_PAYLOAD"
	CodePayloadExpired     Code = "PAYLOAD_EXPIRED"
	CodeWrongNetwork       Code = "WRONG_NETWORK"
	CodeInvalidSignature   Code = "INVALID_SIGNATURE"
	CodeVerificationError  Code = "VERIFICATION_ERROR"
	CodeInsufficientAmount Code = "INSUFFICIENT_AMOUNT"
	CodeWrongRecipient     Code = "WRONG_RECIPIENT"
	CodeWrongToken         Code = "WRONG_TOKEN"

	// Infrastructure errors: a dependency failed or was misconfigured. The
	// operation is denied and nothing is charged.
	CodeFacilitatorRejected Code = "FACILITATOR_REJECTED"
	CodeFacilitatorError    Code = "FACILITATOR_ERROR"
	CodeSettlementFailed    Code = "SETTLEMENT_FAILED"
	CodeSettlementError     Code = "SETTLEMENT_ERROR"
	CodeRPCNotInitialized   Code = "RPC_NOT_INITIALIZED"
	CodeRPCError            Code = "RPC_ERROR"
	CodeTokenNotConfigured  Code = "TOKEN_NOT_CONFIGURED"
)

// Infrastructure reports whether the code indicates a dependency failure
// rather than a problem with the client-supplied authorization. Useful for
// alerting: infrastructure codes page, payment codes do not.
func (c Code) Infrastructure() bool {
	switch c {
	case CodeFacilitatorRejected, CodeFacilitatorError, CodeSettlementFailed,
		CodeSettlementError, CodeRPCNotInitialized, CodeRPCError, CodeTokenNotConfigured:
		return true
	}
	return false
}

// VerifyResult is the discriminated outcome of Decode/VerifyLocal/Verify.
type VerifyResult struct {
	Valid         bool
	Code          Code
	Authorization *Authorization
}

// SettleResult is the discriminated outcome of Settle. A successful result is
// irrevocable; callers must not resubmit the same payload afterwards.
type SettleResult struct {
	Success bool
	Code    Code
	TxHash  string
}

// BalanceResult reports an on-chain balance check. DevMode flags results that
// bypassed the chain so callers can log and audit the bypass.
type BalanceResult struct {
	HasBalance bool
	Balance    uint64
	DevMode    bool
	Code       Code
}
