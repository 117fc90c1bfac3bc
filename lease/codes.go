package lease

import (
	"math/big"

	"iglood/payment"
)

// Code identifies the outcome of a lease operation. Policy codes are expected
// business outcomes; payment and infrastructure codes pass through from the
// payment layer unchanged.
type Code string

const (
	CodeRoomNotFound        Code = "ROOM_NOT_FOUND"
	CodeAlreadyRented       Code = "ALREADY_RENTED"
	CodePermanentlyOwned    Code = "PERMANENTLY_OWNED"
	CodeReserved            Code = "RESERVED"
	CodeNotOwner            Code = "NOT_OWNER"
	CodeReservedOwner       Code = "RESERVED_OWNER"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeIglooLocked         Code = "IGLOO_LOCKED"
	CodeTokenRequired       Code = "TOKEN_REQUIRED"
	CodeEntryFeeRequired    Code = "ENTRY_FEE_REQUIRED"
	CodeEntryFeeNotDue      Code = "ENTRY_FEE_NOT_REQUIRED"
	CodeInvalidSettings     Code = "INVALID_SETTINGS"
	CodeStorageError        Code = "STORAGE_ERROR"
)

// fromPayment lifts a payment code into the lease namespace verbatim.
func fromPayment(c payment.Code) Code { return Code(c) }

// RentQuote answers CanRent: whether the wallet may start a tenancy and what
// the daily rent is.
type RentQuote struct {
	CanRent   bool     `json:"canRent"`
	DailyRent *big.Int `json:"dailyRent,omitempty"`
	Code      Code     `json:"error,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// RentalResult is the outcome of the money-gated room mutations.
type RentalResult struct {
	Success bool   `json:"success"`
	TxHash  string `json:"txHash,omitempty"`
	Code    Code   `json:"error,omitempty"`
}

// SettingsResult reports a settings merge, flagging whether outstanding
// entry-fee receipts were invalidated by the change.
type SettingsResult struct {
	Success        bool `json:"success"`
	EntryFeesReset bool `json:"entryFeesReset"`
	Code           Code `json:"error,omitempty"`
}

// TokenRequirement describes the gate a visitor failed, so clients can prompt
// for the right token.
type TokenRequirement struct {
	TokenAddress   string `json:"tokenAddress"`
	TokenSymbol    string `json:"tokenSymbol,omitempty"`
	MinimumBalance uint64 `json:"minimumBalance"`
}

// EntryDecision is the access gate's verdict for one wallet against one room.
type EntryDecision struct {
	CanEnter        bool              `json:"canEnter"`
	IsOwner         bool              `json:"isOwner,omitempty"`
	Reason          Code              `json:"reason,omitempty"`
	TokenGate       *TokenRequirement `json:"tokenGate,omitempty"`
	RequiresPayment bool              `json:"requiresPayment,omitempty"`
	PaymentAmount   *big.Int          `json:"paymentAmount,omitempty"`
}

// EntryProof carries the caller-supplied evidence for the access gate. A nil
// TokenBalance means no balance was proven.
type EntryProof struct {
	TokenBalance *uint64
}

// SweepResult reports one pass of the overdue-rental sweep.
type SweepResult struct {
	Evictions    []string `json:"evictions"`
	MovedToGrace []string `json:"movedToGrace,omitempty"`
}
