package payment

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"iglood/observability"
)

// Mode selects whether verification is authoritative locally or escalated to
// the external facilitator.
type Mode int

const (
	// ModeLocal trusts the local signature and field checks. Dev and test
	// deployments.
	ModeLocal Mode = iota
	// ModeFacilitator additionally requires the facilitator's /verify
	// approval before a payment is considered valid.
	ModeFacilitator
)

// ParseMode maps a config string onto a verification mode, defaulting to
// facilitator for anything unrecognised — fail closed.
func ParseMode(raw string) Mode {
	if strings.EqualFold(strings.TrimSpace(raw), "local") {
		return ModeLocal
	}
	return ModeFacilitator
}

// Verifier authenticates and settles payment authorizations. Every method
// returns a discriminated result; nothing panics or returns a bare error
// across this boundary, and facilitator or RPC failures always deny.
type Verifier struct {
	networkID   string
	mode        Mode
	policy      BalanceCheckPolicy
	facilitator Facilitator
	balances    TokenBalanceClient
	log         *slog.Logger
	metrics     *observability.Metrics
	nowFn       func() time.Time
}

// VerifierOption customises a Verifier.
type VerifierOption func(*Verifier)

// WithFacilitator wires the external facilitator client.
func WithFacilitator(f Facilitator) VerifierOption {
	return func(v *Verifier) { v.facilitator = f }
}

// WithBalanceClient wires the on-chain balance client.
func WithBalanceClient(c TokenBalanceClient) VerifierOption {
	return func(v *Verifier) { v.balances = c }
}

// WithBalancePolicy selects the strict/dev-bypass posture for balance checks.
func WithBalancePolicy(p BalanceCheckPolicy) VerifierOption {
	return func(v *Verifier) { v.policy = p }
}

// WithClock overrides the verifier's time source. For tests.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.nowFn = now
		}
	}
}

// WithMetrics records facilitator call latency.
func WithMetrics(m *observability.Metrics) VerifierOption {
	return func(v *Verifier) { v.metrics = m }
}

// WithLogger attaches a structured logger.
func WithLogger(log *slog.Logger) VerifierOption {
	return func(v *Verifier) {
		if log != nil {
			v.log = log
		}
	}
}

// NewVerifier constructs a verifier for the given network in the given mode.
func NewVerifier(networkID string, mode Mode, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		networkID: strings.TrimSpace(networkID),
		mode:      mode,
		policy:    BalanceStrict,
		log:       slog.Default(),
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Verifier) now() time.Time {
	if v == nil || v.nowFn == nil {
		return time.Now()
	}
	return v.nowFn()
}

// VerifyLocal decodes the payload and authenticates it without consulting the
// facilitator: expiry, network, then the payer's Ed25519 signature over the
// canonical message. Any unexpected failure during signature recovery denies
// with VERIFICATION_ERROR.
func (v *Verifier) VerifyLocal(payload string) VerifyResult {
	auth, err := Decode(payload)
	if err != nil {
		return VerifyResult{Code: CodeInvalidPayload}
	}
	if v.now().Unix() > auth.ValidUntil {
		return VerifyResult{Code: CodePayloadExpired, Authorization: auth}
	}
	if auth.NetworkID != v.networkID {
		return VerifyResult{Code: CodeWrongNetwork, Authorization: auth}
	}
	ok, err := verifySignature(auth)
	if err != nil {
		v.log.Error("payment signature verification errored", "payer", auth.Payer, "err", err)
		return VerifyResult{Code: CodeVerificationError, Authorization: auth}
	}
	if !ok {
		return VerifyResult{Code: CodeInvalidSignature, Authorization: auth}
	}
	return VerifyResult{Valid: true, Authorization: auth}
}

// Verify runs the local checks, pins the authorization against the expected
// transfer details, and in facilitator mode escalates to the external
// /verify endpoint. Read-only: nothing is settled.
func (v *Verifier) Verify(ctx context.Context, payload string, expected Expected) VerifyResult {
	res := v.VerifyLocal(payload)
	if !res.Valid {
		return res
	}
	auth := res.Authorization
	if expected.Amount != nil {
		units, err := auth.AmountUnits()
		if err != nil {
			return VerifyResult{Code: CodeInvalidPayload, Authorization: auth}
		}
		if units.Cmp(expected.Amount) < 0 {
			return VerifyResult{Code: CodeInsufficientAmount, Authorization: auth}
		}
	}
	if expected.Recipient != "" && auth.Recipient != expected.Recipient {
		return VerifyResult{Code: CodeWrongRecipient, Authorization: auth}
	}
	if expected.Token != "" && auth.TokenAddress != expected.Token {
		return VerifyResult{Code: CodeWrongToken, Authorization: auth}
	}
	if v.mode == ModeFacilitator {
		if v.facilitator == nil {
			return VerifyResult{Code: CodeFacilitatorError, Authorization: auth}
		}
		started := time.Now()
		resp, err := v.facilitator.VerifyPayment(ctx, payload, expectedDetails(expected))
		v.metrics.ObserveFacilitator(time.Since(started))
		if err != nil {
			v.log.Error("facilitator verify unreachable", "err", err)
			return VerifyResult{Code: CodeFacilitatorError, Authorization: auth}
		}
		if !resp.Valid {
			v.log.Warn("facilitator rejected payment", "payer", auth.Payer, "reason", resp.Error)
			return VerifyResult{Code: CodeFacilitatorRejected, Authorization: auth}
		}
	}
	return VerifyResult{Valid: true, Authorization: auth}
}

// Settle re-authenticates the payload and asks the facilitator to execute the
// transfer. A success is irrevocable; the caller must never resubmit the same
// payload once one has been observed. Settlement is not retried here.
func (v *Verifier) Settle(ctx context.Context, payload string) SettleResult {
	// Guards against expiry between verify and settle.
	res := v.VerifyLocal(payload)
	if !res.Valid {
		return SettleResult{Code: res.Code}
	}
	if v.facilitator == nil {
		if v.mode == ModeLocal {
			// No facilitator in dev mode: fabricate a deterministic
			// receipt so the lease flows stay exercisable.
			return SettleResult{Success: true, TxHash: localReceipt(res.Authorization)}
		}
		return SettleResult{Code: CodeSettlementError}
	}
	started := time.Now()
	resp, err := v.facilitator.SettlePayment(ctx, payload)
	v.metrics.ObserveFacilitator(time.Since(started))
	if err != nil {
		v.log.Error("facilitator settle unreachable", "err", err)
		return SettleResult{Code: CodeSettlementError}
	}
	if !resp.Success {
		v.log.Warn("facilitator settle failed", "payer", res.Authorization.Payer, "reason", resp.Error)
		return SettleResult{Code: CodeSettlementFailed}
	}
	return SettleResult{Success: true, TxHash: resp.Transaction}
}

// CheckBalance sums the wallet's on-chain holdings of the token and compares
// them against the minimum. Under the dev-bypass policy a missing token
// address, missing RPC client, or RPC failure allows with DevMode=true so the
// bypass stays auditable in logs and results.
func (v *Verifier) CheckBalance(ctx context.Context, wallet, tokenAddress string, minimum uint64) BalanceResult {
	if strings.TrimSpace(tokenAddress) == "" {
		if v.policy == BalanceDevBypass {
			v.log.Debug("balance check bypassed: token not configured", "wallet", wallet)
			return BalanceResult{HasBalance: true, DevMode: true}
		}
		return BalanceResult{Code: CodeTokenNotConfigured}
	}
	if v.balances == nil {
		if v.policy == BalanceDevBypass {
			v.log.Debug("balance check bypassed: rpc not initialised", "wallet", wallet)
			return BalanceResult{HasBalance: true, DevMode: true}
		}
		return BalanceResult{Code: CodeRPCNotInitialized}
	}
	balance, err := v.balances.TokenBalance(ctx, wallet, tokenAddress)
	if err != nil {
		if v.policy == BalanceDevBypass {
			v.log.Warn("balance check bypassed: rpc error", "wallet", wallet, "err", err)
			return BalanceResult{HasBalance: true, DevMode: true}
		}
		v.log.Error("balance check failed", "wallet", wallet, "err", err)
		return BalanceResult{Code: CodeRPCError}
	}
	return BalanceResult{HasBalance: balance >= minimum, Balance: balance}
}

func localReceipt(auth *Authorization) string {
	if auth == nil {
		return "local-settlement"
	}
	return "local-" + strings.TrimSpace(auth.Signature)
}
