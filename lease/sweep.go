package lease

import (
	"context"
	"errors"
)

// ProcessOverdueRentals advances every overdue tenancy one step: current
// rooms past due move to grace, grace rooms past the grace window are
// evicted. An external scheduler invokes this periodically; minutes cadence
// is plenty, the transitions are driven by timestamps rather than tick
// arrival.
//
// Eviction resets the room exactly as a voluntary leave does: ownership and
// dates cleared, access back to private, banner wiped, entry-fee receipts
// invalidated. Reserved rooms are never swept.
func (e *Engine) ProcessOverdueRentals(ctx context.Context) (SweepResult, error) {
	now := e.now()
	result := SweepResult{Evictions: []string{}}

	overdue, err := e.store.ListRoomsPastDue(ctx, now)
	if err != nil {
		e.log.Error("overdue listing failed", "err", err)
		return result, err
	}

	for _, stale := range overdue {
		if stale.Reserved {
			continue
		}
		roomID := stale.ID
		unlock := e.locks.acquire(roomID)

		// Reload under the lock; the listing snapshot may be stale by now.
		room, err := e.store.LoadRoom(ctx, roomID)
		if err != nil {
			unlock()
			if !errors.Is(err, ErrRoomNotFound) {
				e.log.Error("sweep reload failed", "room", roomID, "err", err)
			}
			continue
		}
		if !room.Rented || room.Reserved || !now.After(room.RentDueAt) {
			unlock()
			continue
		}

		switch room.RentStatus {
		case RentCurrent:
			room.RentStatus = RentGrace
			if err := e.saveSweep(ctx, room); err == nil {
				result.MovedToGrace = append(result.MovedToGrace, roomID)
				e.log.Info("rental entered grace", "room", roomID, "wallet", room.OwnerWallet, "due", room.RentDueAt)
			}
		case RentGrace:
			if now.After(room.RentDueAt.Add(e.cfg.GraceWindow)) {
				evicted := room.OwnerWallet
				// The evicted state is transient: the room is observable as
				// unrented the moment the sweep commits.
				room.resetTenancy(RentNone)
				if err := e.saveSweep(ctx, room); err == nil {
					result.Evictions = append(result.Evictions, roomID)
					e.metrics.Eviction()
					e.log.Info("tenant evicted", "room", roomID, "wallet", evicted)
				}
			}
		}
		unlock()
	}
	return result, nil
}

func (e *Engine) saveSweep(ctx context.Context, room *Room) error {
	err := e.store.SaveRoom(ctx, room, room.Version)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrVersionConflict) {
		// A concurrent rent payment or leave won the race; their state wins.
		e.log.Debug("sweep write lost version race", "room", room.ID)
		return err
	}
	e.log.Error("sweep commit failed", "room", room.ID, "err", err)
	return err
}
