package lease

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"iglood/observability"
	"iglood/payment"
)

var (
	// ErrRoomNotFound is returned by stores when the room id is unknown.
	ErrRoomNotFound = errors.New("lease: room not found")
	// ErrVersionConflict is returned by stores when a save loses an
	// optimistic-concurrency race.
	ErrVersionConflict = errors.New("lease: room version conflict")
)

// RoomStore is the persistence contract the engine operates against. The
// store owns the authoritative Room record; SaveRoom must reject writes whose
// expectedVersion no longer matches with ErrVersionConflict.
type RoomStore interface {
	CreateRoom(ctx context.Context, room *Room) error
	LoadRoom(ctx context.Context, id string) (*Room, error)
	SaveRoom(ctx context.Context, room *Room, expectedVersion uint64) error
	ListRooms(ctx context.Context) ([]*Room, error)
	ListRoomsPastDue(ctx context.Context, now time.Time) ([]*Room, error)
}

// PaymentVerifier is the money gate every paid transition goes through.
type PaymentVerifier interface {
	Verify(ctx context.Context, payload string, expected payment.Expected) payment.VerifyResult
	Settle(ctx context.Context, payload string) payment.SettleResult
	CheckBalance(ctx context.Context, wallet, tokenAddress string, minimum uint64) payment.BalanceResult
}

// Directory resolves wallet addresses to display names for stamping new
// tenancies.
type Directory interface {
	ResolveDisplayName(ctx context.Context, wallet string) (string, error)
}

// Config carries the leasing policy constants.
type Config struct {
	// DailyRent is the recurring rent in minor units.
	DailyRent *big.Int
	// TreasuryWallet receives rent payments.
	TreasuryWallet string
	// RentPeriod is how long one rent payment covers. Defaults to 24h.
	RentPeriod time.Duration
	// GraceWindow is how long past due a tenancy survives before eviction.
	// Defaults to 24h.
	GraceWindow time.Duration
	// RentGateTokenAddress, when set, requires prospective tenants to hold
	// RentGateMinimum of the token before renting.
	RentGateTokenAddress string
	RentGateMinimum      uint64
}

func (c Config) withDefaults() Config {
	if c.DailyRent == nil {
		c.DailyRent = big.NewInt(0)
	}
	if c.RentPeriod <= 0 {
		c.RentPeriod = 24 * time.Hour
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = 24 * time.Hour
	}
	return c
}

// Engine owns the room rental lifecycle: the rent state machine, settings
// mutation, the entry-fee ledger, and the overdue sweep. All money-gated
// transitions verify and settle through the payment verifier before any room
// state changes, and every mutation runs under the room's lock with an
// optimistic version check at write time.
type Engine struct {
	store     RoomStore
	verifier  PaymentVerifier
	directory Directory
	cfg       Config
	locks     *roomLocks
	log       *slog.Logger
	metrics   *observability.Metrics
	nowFn     func() time.Time
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithDirectory wires the display-name resolver.
func WithDirectory(d Directory) EngineOption {
	return func(e *Engine) { e.directory = d }
}

// WithClock overrides the engine's time source. For tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.nowFn = now
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithMetrics attaches the lease metric collectors.
func WithMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine constructs a lease engine over the given store and verifier.
func NewEngine(store RoomStore, verifier PaymentVerifier, cfg Config, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		verifier: verifier,
		cfg:      cfg.withDefaults(),
		locks:    newRoomLocks(),
		log:      slog.Default(),
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) now() time.Time { return e.nowFn() }

// DailyRent exposes the configured rent amount.
func (e *Engine) DailyRent() *big.Int { return new(big.Int).Set(e.cfg.DailyRent) }

// CanRent reports whether the wallet may start a tenancy on the room, and at
// what daily rent. Policy denials are business outcomes, not failures.
func (e *Engine) CanRent(ctx context.Context, wallet, roomID string) RentQuote {
	room, err := e.store.LoadRoom(ctx, roomID)
	if err != nil {
		return e.quoteLoadError(roomID, err)
	}
	return e.canRent(ctx, wallet, room)
}

func (e *Engine) quoteLoadError(roomID string, err error) RentQuote {
	if errors.Is(err, ErrRoomNotFound) {
		return RentQuote{Code: CodeRoomNotFound}
	}
	e.log.Error("room load failed", "room", roomID, "err", err)
	return RentQuote{Code: CodeStorageError}
}

func (e *Engine) canRent(ctx context.Context, wallet string, room *Room) RentQuote {
	if room.Reserved {
		name := room.ReservedOwner
		if e.directory != nil {
			if resolved, err := e.directory.ResolveDisplayName(ctx, room.ReservedOwner); err == nil && resolved != "" {
				name = resolved
			}
		}
		return RentQuote{Code: CodeReserved, Message: "igloo reserved for " + name}
	}
	if room.Permanent {
		return RentQuote{Code: CodePermanentlyOwned}
	}
	if room.Rented {
		return RentQuote{Code: CodeAlreadyRented}
	}
	if e.cfg.RentGateTokenAddress != "" || e.cfg.RentGateMinimum > 0 {
		balance := e.verifier.CheckBalance(ctx, wallet, e.cfg.RentGateTokenAddress, e.cfg.RentGateMinimum)
		if balance.DevMode {
			e.log.Warn("rent gate balance check bypassed", "wallet", wallet)
		}
		if balance.Code != "" {
			return RentQuote{Code: fromPayment(balance.Code)}
		}
		if !balance.HasBalance {
			return RentQuote{Code: CodeInsufficientBalance}
		}
	}
	return RentQuote{CanRent: true, DailyRent: e.DailyRent()}
}

// StartRental begins a tenancy: re-validates rentability, verifies and
// settles the rent payment, and only after settlement success mutates the
// room. A settlement failure after verification leaves the room untouched;
// the payment is never retried here.
func (e *Engine) StartRental(ctx context.Context, wallet, roomID, paymentPayload string) RentalResult {
	unlock := e.locks.acquire(roomID)
	defer unlock()

	room, err := e.store.LoadRoom(ctx, roomID)
	if err != nil {
		return RentalResult{Code: e.quoteLoadError(roomID, err).Code}
	}
	if quote := e.canRent(ctx, wallet, room); !quote.CanRent {
		return RentalResult{Code: quote.Code}
	}

	verdict := e.verifier.Verify(ctx, paymentPayload, payment.Expected{
		Amount:    e.cfg.DailyRent,
		Recipient: e.cfg.TreasuryWallet,
	})
	if !verdict.Valid {
		return RentalResult{Code: fromPayment(verdict.Code)}
	}
	settled := e.verifier.Settle(ctx, paymentPayload)
	if !settled.Success {
		e.metrics.SettlementFailure()
		e.log.Error("rent settlement failed", "room", roomID, "wallet", wallet, "code", settled.Code)
		return RentalResult{Code: fromPayment(settled.Code)}
	}

	now := e.now()
	room.Rented = true
	room.OwnerWallet = wallet
	room.OwnerDisplayName = e.displayName(ctx, wallet)
	room.RentStartedAt = now
	room.LastRentPaidAt = now
	room.RentDueAt = now.Add(e.cfg.RentPeriod)
	room.RentStatus = RentCurrent
	room.AccessPolicy = AccessPrivate
	room.Stats.TimesRented++
	room.Stats.TotalRentPaid = new(big.Int).Add(room.Stats.TotalRentPaid, e.cfg.DailyRent)

	if err := e.store.SaveRoom(ctx, room, room.Version); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			// Another writer took the room between our read and write. The
			// payment has settled; surface the conflict for reconciliation.
			e.log.Error("rental commit lost version race after settlement", "room", roomID, "wallet", wallet, "tx", settled.TxHash)
			return RentalResult{Code: CodeAlreadyRented}
		}
		e.log.Error("rental commit failed", "room", roomID, "err", err)
		return RentalResult{Code: CodeStorageError}
	}
	e.metrics.RentalStarted()
	e.log.Info("rental started", "room", roomID, "wallet", wallet, "tx", settled.TxHash, "due", room.RentDueAt)
	return RentalResult{Success: true, TxHash: settled.TxHash}
}

// PayRent renews the tenancy for another rent period. Owner only; works from
// both current and grace status.
func (e *Engine) PayRent(ctx context.Context, wallet, roomID, paymentPayload string) RentalResult {
	unlock := e.locks.acquire(roomID)
	defer unlock()

	room, err := e.store.LoadRoom(ctx, roomID)
	if err != nil {
		return RentalResult{Code: e.quoteLoadError(roomID, err).Code}
	}
	if !room.Rented || room.OwnerWallet != wallet {
		return RentalResult{Code: CodeNotOwner}
	}

	verdict := e.verifier.Verify(ctx, paymentPayload, payment.Expected{
		Amount:    e.cfg.DailyRent,
		Recipient: e.cfg.TreasuryWallet,
	})
	if !verdict.Valid {
		return RentalResult{Code: fromPayment(verdict.Code)}
	}
	settled := e.verifier.Settle(ctx, paymentPayload)
	if !settled.Success {
		e.metrics.SettlementFailure()
		e.log.Error("rent renewal settlement failed", "room", roomID, "wallet", wallet, "code", settled.Code)
		return RentalResult{Code: fromPayment(settled.Code)}
	}

	now := e.now()
	room.LastRentPaidAt = now
	room.RentDueAt = now.Add(e.cfg.RentPeriod)
	room.RentStatus = RentCurrent
	room.Stats.TotalRentPaid = new(big.Int).Add(room.Stats.TotalRentPaid, e.cfg.DailyRent)

	if err := e.store.SaveRoom(ctx, room, room.Version); err != nil {
		e.log.Error("rent renewal commit failed", "room", roomID, "err", err)
		return RentalResult{Code: CodeStorageError}
	}
	e.metrics.RentPaid()
	e.log.Info("rent paid", "room", roomID, "wallet", wallet, "tx", settled.TxHash, "due", room.RentDueAt)
	return RentalResult{Success: true, TxHash: settled.TxHash}
}

// LeaveIgloo is the owner's voluntary release. The room resets exactly as an
// eviction does, but the status goes straight to none. Reserved rooms cannot
// be vacated this way.
func (e *Engine) LeaveIgloo(ctx context.Context, wallet, roomID string) RentalResult {
	unlock := e.locks.acquire(roomID)
	defer unlock()

	room, err := e.store.LoadRoom(ctx, roomID)
	if err != nil {
		return RentalResult{Code: e.quoteLoadError(roomID, err).Code}
	}
	if room.Reserved {
		return RentalResult{Code: CodeReservedOwner}
	}
	if !room.Rented || room.OwnerWallet != wallet {
		return RentalResult{Code: CodeNotOwner}
	}

	room.resetTenancy(RentNone)
	if err := e.store.SaveRoom(ctx, room, room.Version); err != nil {
		e.log.Error("leave commit failed", "room", roomID, "err", err)
		return RentalResult{Code: CodeStorageError}
	}
	e.log.Info("igloo vacated", "room", roomID, "wallet", wallet)
	return RentalResult{Success: true}
}

// SettingsPatch is a partial update to a room's access configuration. Nil
// fields are left untouched.
type SettingsPatch struct {
	AccessPolicy *AccessPolicy `json:"accessPolicy,omitempty"`
	TokenGate    *TokenGatePatch
	EntryFee     *EntryFeePatch
	Banner       *BannerPatch
}

// TokenGatePatch partially updates the token gate.
type TokenGatePatch struct {
	Enabled        *bool   `json:"enabled,omitempty"`
	TokenAddress   *string `json:"tokenAddress,omitempty"`
	TokenSymbol    *string `json:"tokenSymbol,omitempty"`
	MinimumBalance *uint64 `json:"minimumBalance,omitempty"`
}

// EntryFeePatch partially updates the entry fee.
type EntryFeePatch struct {
	Enabled *bool    `json:"enabled,omitempty"`
	Amount  *big.Int `json:"amount,omitempty"`
}

// BannerPatch partially updates the banner.
type BannerPatch struct {
	Title      *string `json:"title,omitempty"`
	Ticker     *string `json:"ticker,omitempty"`
	ShillText  *string `json:"shillText,omitempty"`
	StyleIndex *int    `json:"styleIndex,omitempty"`
}

// UpdateSettings merges the patch into the room's access configuration. Any
// change to the entry-fee amount, the fee enabled flag, or the token gate
// invalidates all outstanding entry-fee receipts, because those receipts
// proved payment against the previous configuration.
func (e *Engine) UpdateSettings(ctx context.Context, wallet, roomID string, patch SettingsPatch) SettingsResult {
	unlock := e.locks.acquire(roomID)
	defer unlock()

	room, err := e.store.LoadRoom(ctx, roomID)
	if err != nil {
		return SettingsResult{Code: e.quoteLoadError(roomID, err).Code}
	}
	if !room.Rented || room.OwnerWallet != wallet {
		return SettingsResult{Code: CodeNotOwner}
	}
	if patch.AccessPolicy != nil && !patch.AccessPolicy.Valid() {
		return SettingsResult{Code: CodeInvalidSettings}
	}
	if patch.EntryFee != nil && patch.EntryFee.Amount != nil && patch.EntryFee.Amount.Sign() < 0 {
		return SettingsResult{Code: CodeInvalidSettings}
	}

	priorGate := room.TokenGate
	priorFee := room.EntryFee

	if patch.AccessPolicy != nil {
		room.AccessPolicy = *patch.AccessPolicy
	}
	if patch.TokenGate != nil {
		if patch.TokenGate.Enabled != nil {
			room.TokenGate.Enabled = *patch.TokenGate.Enabled
		}
		if patch.TokenGate.TokenAddress != nil {
			room.TokenGate.TokenAddress = *patch.TokenGate.TokenAddress
		}
		if patch.TokenGate.TokenSymbol != nil {
			room.TokenGate.TokenSymbol = *patch.TokenGate.TokenSymbol
		}
		if patch.TokenGate.MinimumBalance != nil {
			room.TokenGate.MinimumBalance = *patch.TokenGate.MinimumBalance
		}
	}
	if patch.EntryFee != nil {
		if patch.EntryFee.Enabled != nil {
			room.EntryFee.Enabled = *patch.EntryFee.Enabled
		}
		if patch.EntryFee.Amount != nil {
			room.EntryFee.Amount = new(big.Int).Set(patch.EntryFee.Amount)
		}
	}
	if patch.Banner != nil {
		if patch.Banner.Title != nil {
			room.Banner.Title = *patch.Banner.Title
		}
		if patch.Banner.Ticker != nil {
			room.Banner.Ticker = *patch.Banner.Ticker
		}
		if patch.Banner.ShillText != nil {
			room.Banner.ShillText = *patch.Banner.ShillText
		}
		if patch.Banner.StyleIndex != nil {
			room.Banner.StyleIndex = *patch.Banner.StyleIndex
		}
	}

	reset := priorGate != room.TokenGate ||
		priorFee.Enabled != room.EntryFee.Enabled ||
		priorFee.amountUnits().Cmp(room.EntryFee.amountUnits()) != 0
	if reset {
		room.bumpEntryFeeVersion()
	}

	if err := e.store.SaveRoom(ctx, room, room.Version); err != nil {
		e.log.Error("settings commit failed", "room", roomID, "err", err)
		return SettingsResult{Code: CodeStorageError}
	}
	if reset {
		e.log.Info("entry fee receipts invalidated", "room", roomID, "feeVersion", room.EntryFeeVersion)
	}
	return SettingsResult{Success: true, EntryFeesReset: reset}
}

// PayEntryFee charges the wallet the room's entry fee, paid to the room
// owner, and records a receipt against the current fee configuration. Paying
// again under the same configuration is a no-op returning the original
// receipt.
func (e *Engine) PayEntryFee(ctx context.Context, wallet, roomID, paymentPayload string) RentalResult {
	unlock := e.locks.acquire(roomID)
	defer unlock()

	room, err := e.store.LoadRoom(ctx, roomID)
	if err != nil {
		return RentalResult{Code: e.quoteLoadError(roomID, err).Code}
	}
	if !room.Rented || !room.EntryFee.Enabled || room.EntryFee.amountUnits().Sign() <= 0 {
		return RentalResult{Code: CodeEntryFeeNotDue}
	}
	if receipt := room.feeReceiptFor(wallet); receipt != nil {
		return RentalResult{Success: true, TxHash: receipt.TxHash}
	}

	verdict := e.verifier.Verify(ctx, paymentPayload, payment.Expected{
		Amount:    room.EntryFee.amountUnits(),
		Recipient: room.OwnerWallet,
	})
	if !verdict.Valid {
		return RentalResult{Code: fromPayment(verdict.Code)}
	}
	settled := e.verifier.Settle(ctx, paymentPayload)
	if !settled.Success {
		e.metrics.SettlementFailure()
		e.log.Error("entry fee settlement failed", "room", roomID, "wallet", wallet, "code", settled.Code)
		return RentalResult{Code: fromPayment(settled.Code)}
	}

	paid, err := verdict.Authorization.AmountUnits()
	if err != nil {
		paid = room.EntryFee.amountUnits()
	}
	room.PaidEntryFees = append(room.PaidEntryFees, EntryFeeReceipt{
		ReceiptID:  uuid.NewString(),
		Wallet:     wallet,
		Amount:     paid,
		PaidAt:     e.now(),
		TxHash:     settled.TxHash,
		FeeVersion: room.EntryFeeVersion,
	})
	room.Stats.TotalEntryFeesCollected = new(big.Int).Add(room.Stats.TotalEntryFeesCollected, paid)

	if err := e.store.SaveRoom(ctx, room, room.Version); err != nil {
		e.log.Error("entry fee commit failed", "room", roomID, "err", err)
		return RentalResult{Code: CodeStorageError}
	}
	e.metrics.EntryFeePaid()
	e.log.Info("entry fee paid", "room", roomID, "wallet", wallet, "tx", settled.TxHash)
	return RentalResult{Success: true, TxHash: settled.TxHash}
}

// CanEnter evaluates the access gate against the room's authoritative record.
func (e *Engine) CanEnter(ctx context.Context, wallet, roomID string, proof EntryProof) EntryDecision {
	room, err := e.store.LoadRoom(ctx, roomID)
	if err != nil {
		return EntryDecision{Reason: e.quoteLoadError(roomID, err).Code}
	}
	return CanEnter(room, wallet, proof)
}

// RecordVisit counts a session entry. Callers invoke it once per entry; the
// engine does not deduplicate repeat visits beyond the unique-wallet set.
func (e *Engine) RecordVisit(ctx context.Context, roomID, wallet string) error {
	unlock := e.locks.acquire(roomID)
	defer unlock()

	room, err := e.store.LoadRoom(ctx, roomID)
	if err != nil {
		return err
	}
	room.Stats.TotalVisits++
	if _, seen := room.UniqueVisitors[wallet]; !seen {
		room.UniqueVisitors[wallet] = struct{}{}
		room.Stats.UniqueVisitorCount++
	}
	return e.store.SaveRoom(ctx, room, room.Version)
}

func (e *Engine) displayName(ctx context.Context, wallet string) string {
	if e.directory != nil {
		if name, err := e.directory.ResolveDisplayName(ctx, wallet); err == nil && name != "" {
			return name
		} else if err != nil {
			e.log.Warn("display name resolution failed", "wallet", wallet, "err", err)
		}
	}
	return shortWallet(wallet)
}

// shortWallet abbreviates a wallet address for display when the directory is
// unavailable.
func shortWallet(wallet string) string {
	if len(wallet) <= 10 {
		return wallet
	}
	return wallet[:4] + "…" + wallet[len(wallet)-4:]
}
