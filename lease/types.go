package lease

import (
	"math/big"
	"time"
)

// RentStatus tracks where a room sits in the rental lifecycle. Transitions
// only move none -> current -> grace -> evicted, with eviction feeding back to
// none once the sweep finalises it.
type RentStatus string

const (
	RentNone    RentStatus = "none"
	RentCurrent RentStatus = "current"
	RentGrace   RentStatus = "grace"
	RentEvicted RentStatus = "evicted"
)

// AccessPolicy selects how non-owners are admitted to a room.
type AccessPolicy string

const (
	AccessPrivate  AccessPolicy = "private"
	AccessPublic   AccessPolicy = "public"
	AccessFee      AccessPolicy = "fee"
	AccessToken    AccessPolicy = "token"
	AccessFeeToken AccessPolicy = "fee+token"
)

// Valid reports whether the policy is one of the supported values.
func (p AccessPolicy) Valid() bool {
	switch p {
	case AccessPrivate, AccessPublic, AccessFee, AccessToken, AccessFeeToken:
		return true
	}
	return false
}

// requiresToken reports whether the policy includes the token gate.
func (p AccessPolicy) requiresToken() bool {
	return p == AccessToken || p == AccessFeeToken
}

// requiresFee reports whether the policy includes the entry fee gate.
func (p AccessPolicy) requiresFee() bool {
	return p == AccessFee || p == AccessFeeToken
}

// TokenGate is the token-balance requirement a tenant can place on entry.
type TokenGate struct {
	Enabled        bool   `json:"enabled"`
	TokenAddress   string `json:"tokenAddress,omitempty"`
	TokenSymbol    string `json:"tokenSymbol,omitempty"`
	MinimumBalance uint64 `json:"minimumBalance,omitempty"`
}

// EntryFee is the per-visitor charge a tenant can place on entry. Amount is
// in minor units.
type EntryFee struct {
	Enabled bool     `json:"enabled"`
	Amount  *big.Int `json:"amount,omitempty"`
}

// amountUnits returns the configured amount, never nil.
func (f EntryFee) amountUnits() *big.Int {
	if f.Amount == nil {
		return big.NewInt(0)
	}
	return f.Amount
}

// EntryFeeReceipt records one wallet satisfying the room's entry fee under a
// specific fee configuration. Receipts whose FeeVersion trails the room's
// current EntryFeeVersion are stale and prove nothing.
type EntryFeeReceipt struct {
	ReceiptID  string    `json:"receiptId"`
	Wallet     string    `json:"wallet"`
	Amount     *big.Int  `json:"amount"`
	PaidAt     time.Time `json:"paidAt"`
	TxHash     string    `json:"txHash"`
	FeeVersion uint64    `json:"feeVersion"`
}

// Banner is the cosmetic marquee a tenant decorates their room with.
type Banner struct {
	Title      string `json:"title,omitempty"`
	Ticker     string `json:"ticker,omitempty"`
	ShillText  string `json:"shillText,omitempty"`
	StyleIndex int    `json:"styleIndex,omitempty"`
}

// Stats accumulates per-room lifetime counters.
type Stats struct {
	TotalVisits             uint64   `json:"totalVisits"`
	UniqueVisitorCount      uint64   `json:"uniqueVisitorCount"`
	TotalRentPaid           *big.Int `json:"totalRentPaid"`
	TotalEntryFeesCollected *big.Int `json:"totalEntryFeesCollected"`
	TimesRented             uint64   `json:"timesRented"`
}

// Room is the leased resource. The persistence layer owns the authoritative
// record; the engine re-reads, mutates, and writes back under a per-room lock
// with Version carrying the optimistic-concurrency check.
type Room struct {
	ID            string `json:"id"`
	Permanent     bool   `json:"permanent"`
	Reserved      bool   `json:"reserved"`
	ReservedOwner string `json:"reservedOwner,omitempty"`

	Rented           bool       `json:"rented"`
	OwnerWallet      string     `json:"ownerWallet,omitempty"`
	OwnerDisplayName string     `json:"ownerDisplayName,omitempty"`
	RentStartedAt    time.Time  `json:"rentStartedAt,omitempty"`
	LastRentPaidAt   time.Time  `json:"lastRentPaidAt,omitempty"`
	RentDueAt        time.Time  `json:"rentDueAt,omitempty"`
	RentStatus       RentStatus `json:"rentStatus"`

	AccessPolicy    AccessPolicy      `json:"accessPolicy"`
	TokenGate       TokenGate         `json:"tokenGate"`
	EntryFee        EntryFee          `json:"entryFee"`
	EntryFeeVersion uint64            `json:"entryFeeVersion"`
	PaidEntryFees   []EntryFeeReceipt `json:"paidEntryFees,omitempty"`

	Stats          Stats               `json:"stats"`
	UniqueVisitors map[string]struct{} `json:"uniqueVisitors,omitempty"`
	Banner         Banner              `json:"banner"`

	Version uint64 `json:"version"`
}

// NewRoom initialises an unrented room with zeroed stats and the most
// restrictive access policy.
func NewRoom(id string) *Room {
	return &Room{
		ID:           id,
		RentStatus:   RentNone,
		AccessPolicy: AccessPrivate,
		Stats: Stats{
			TotalRentPaid:           big.NewInt(0),
			TotalEntryFeesCollected: big.NewInt(0),
		},
		UniqueVisitors: make(map[string]struct{}),
	}
}

// Clone deep-copies the room so stores can hand out records without aliasing
// the authoritative copy.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	clone := *r
	if r.EntryFee.Amount != nil {
		clone.EntryFee.Amount = new(big.Int).Set(r.EntryFee.Amount)
	}
	if r.Stats.TotalRentPaid != nil {
		clone.Stats.TotalRentPaid = new(big.Int).Set(r.Stats.TotalRentPaid)
	}
	if r.Stats.TotalEntryFeesCollected != nil {
		clone.Stats.TotalEntryFeesCollected = new(big.Int).Set(r.Stats.TotalEntryFeesCollected)
	}
	if r.PaidEntryFees != nil {
		clone.PaidEntryFees = make([]EntryFeeReceipt, len(r.PaidEntryFees))
		for i, receipt := range r.PaidEntryFees {
			clone.PaidEntryFees[i] = receipt
			if receipt.Amount != nil {
				clone.PaidEntryFees[i].Amount = new(big.Int).Set(receipt.Amount)
			}
		}
	}
	if r.UniqueVisitors != nil {
		clone.UniqueVisitors = make(map[string]struct{}, len(r.UniqueVisitors))
		for wallet := range r.UniqueVisitors {
			clone.UniqueVisitors[wallet] = struct{}{}
		}
	}
	return &clone
}

// Normalize backfills nil money fields and zero-valued enums after
// deserialisation.
func (r *Room) Normalize() *Room {
	if r == nil {
		return nil
	}
	if r.Stats.TotalRentPaid == nil {
		r.Stats.TotalRentPaid = big.NewInt(0)
	}
	if r.Stats.TotalEntryFeesCollected == nil {
		r.Stats.TotalEntryFeesCollected = big.NewInt(0)
	}
	if r.UniqueVisitors == nil {
		r.UniqueVisitors = make(map[string]struct{})
	}
	if r.RentStatus == "" {
		r.RentStatus = RentNone
	}
	if r.AccessPolicy == "" {
		r.AccessPolicy = AccessPrivate
	}
	return r
}

// Rentable reports whether the room can enter a new tenancy.
func (r *Room) Rentable() bool {
	return r != nil && !r.Permanent && !r.Reserved && !r.Rented
}

// feeReceiptFor returns the wallet's entry-fee receipt at the room's current
// fee version, if one exists.
func (r *Room) feeReceiptFor(wallet string) *EntryFeeReceipt {
	for i := range r.PaidEntryFees {
		receipt := &r.PaidEntryFees[i]
		if receipt.Wallet == wallet && receipt.FeeVersion == r.EntryFeeVersion {
			return receipt
		}
	}
	return nil
}

// bumpEntryFeeVersion invalidates every outstanding entry-fee receipt. Called
// whenever the fee or token-gate configuration changes and on eviction.
func (r *Room) bumpEntryFeeVersion() {
	r.EntryFeeVersion++
	r.PaidEntryFees = nil
}

// resetTenancy clears everything tied to the current tenant: ownership,
// rental dates, access configuration, banner, and entry-fee receipts. The
// caller decides the resulting RentStatus.
func (r *Room) resetTenancy(status RentStatus) {
	r.Rented = false
	r.OwnerWallet = ""
	r.OwnerDisplayName = ""
	r.RentStartedAt = time.Time{}
	r.LastRentPaidAt = time.Time{}
	r.RentDueAt = time.Time{}
	r.RentStatus = status
	r.AccessPolicy = AccessPrivate
	r.TokenGate = TokenGate{}
	r.EntryFee = EntryFee{}
	r.Banner = Banner{}
	r.bumpEntryFeeVersion()
}
