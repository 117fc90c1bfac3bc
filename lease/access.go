package lease

// CanEnter evaluates whether a wallet may enter the room under its current
// access policy. Pure and side-effect free: callable any number of times,
// including by the session layer before admitting a player.
//
// The owner always passes. Combined policies evaluate every enabled gate and
// the first failing gate's reason is reported; the token gate is checked
// before the entry fee so a visitor is not asked to pay a fee they could not
// use.
func CanEnter(room *Room, wallet string, proof EntryProof) EntryDecision {
	if room == nil {
		return EntryDecision{Reason: CodeRoomNotFound}
	}
	if room.Rented && wallet != "" && wallet == room.OwnerWallet {
		return EntryDecision{CanEnter: true, IsOwner: true}
	}

	switch room.AccessPolicy {
	case AccessPublic:
		return EntryDecision{CanEnter: true}
	case AccessPrivate:
		return EntryDecision{Reason: CodeIglooLocked}
	}

	if room.AccessPolicy.requiresToken() && room.TokenGate.Enabled {
		var balance uint64
		if proof.TokenBalance != nil {
			balance = *proof.TokenBalance
		}
		if balance < room.TokenGate.MinimumBalance {
			return EntryDecision{
				Reason: CodeTokenRequired,
				TokenGate: &TokenRequirement{
					TokenAddress:   room.TokenGate.TokenAddress,
					TokenSymbol:    room.TokenGate.TokenSymbol,
					MinimumBalance: room.TokenGate.MinimumBalance,
				},
			}
		}
	}

	if room.AccessPolicy.requiresFee() && room.EntryFee.Enabled && room.EntryFee.amountUnits().Sign() > 0 {
		if room.feeReceiptFor(wallet) == nil {
			return EntryDecision{
				Reason:          CodeEntryFeeRequired,
				RequiresPayment: true,
				PaymentAmount:   room.EntryFee.amountUnits(),
			}
		}
	}

	return EntryDecision{CanEnter: true}
}
