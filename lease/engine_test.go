package lease

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"iglood/payment"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type mockStore struct {
	mu    sync.Mutex
	rooms map[string]*Room
	saves int
}

func newMockStore(rooms ...*Room) *mockStore {
	s := &mockStore{rooms: make(map[string]*Room)}
	for _, room := range rooms {
		s.rooms[room.ID] = room.Clone()
	}
	return s
}

func (s *mockStore) CreateRoom(_ context.Context, room *Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = room.Clone()
	return nil
}

func (s *mockStore) LoadRoom(_ context.Context, id string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room.Clone(), nil
}

func (s *mockStore) SaveRoom(_ context.Context, room *Room, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rooms[room.ID]
	if !ok {
		return ErrRoomNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	saved := room.Clone()
	saved.Version = expectedVersion + 1
	s.rooms[room.ID] = saved
	room.Version = saved.Version
	s.saves++
	return nil
}

func (s *mockStore) ListRooms(_ context.Context) ([]*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room.Clone())
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

func (s *mockStore) ListRoomsPastDue(_ context.Context, now time.Time) ([]*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var overdue []*Room
	for _, room := range s.rooms {
		if room.Rented && now.After(room.RentDueAt) {
			overdue = append(overdue, room.Clone())
		}
	}
	sort.Slice(overdue, func(i, j int) bool { return overdue[i].ID < overdue[j].ID })
	return overdue, nil
}

func (s *mockStore) get(t *testing.T, id string) *Room {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		t.Fatalf("room %s missing from store", id)
	}
	return room.Clone()
}

type mockVerifier struct {
	verifyFn    func(payload string, expected payment.Expected) payment.VerifyResult
	settleFn    func(payload string) payment.SettleResult
	balanceFn   func(wallet, token string, minimum uint64) payment.BalanceResult
	settleCalls atomic.Int64
}

func (m *mockVerifier) Verify(_ context.Context, payload string, expected payment.Expected) payment.VerifyResult {
	if m.verifyFn != nil {
		return m.verifyFn(payload, expected)
	}
	amount := "0"
	if expected.Amount != nil {
		amount = expected.Amount.String()
	}
	return payment.VerifyResult{Valid: true, Authorization: &payment.Authorization{
		Recipient: expected.Recipient,
		Amount:    amount,
	}}
}

func (m *mockVerifier) Settle(_ context.Context, payload string) payment.SettleResult {
	n := m.settleCalls.Add(1)
	if m.settleFn != nil {
		return m.settleFn(payload)
	}
	return payment.SettleResult{Success: true, TxHash: fmt.Sprintf("tx-%d", n)}
}

func (m *mockVerifier) CheckBalance(_ context.Context, wallet, token string, minimum uint64) payment.BalanceResult {
	if m.balanceFn != nil {
		return m.balanceFn(wallet, token, minimum)
	}
	return payment.BalanceResult{HasBalance: true, Balance: minimum}
}

type staticDirectory map[string]string

func (d staticDirectory) ResolveDisplayName(_ context.Context, wallet string) (string, error) {
	return d[wallet], nil
}

func testConfig() Config {
	return Config{
		DailyRent:      big.NewInt(10000),
		TreasuryWallet: "TreasuryWallet",
		RentPeriod:     24 * time.Hour,
		GraceWindow:    24 * time.Hour,
	}
}

func newTestEngine(store RoomStore, verifier PaymentVerifier, cfg Config) *Engine {
	return NewEngine(store, verifier, cfg,
		WithClock(func() time.Time { return testNow }),
		WithDirectory(staticDirectory{"W1": "Tux", "RSVD": "Chairman"}),
	)
}

func assertInvariant(t *testing.T, room *Room) {
	t.Helper()
	if room.Rented != (room.OwnerWallet != "") {
		t.Fatalf("invariant broken: rented=%v owner=%q", room.Rented, room.OwnerWallet)
	}
}

func TestCanRent(t *testing.T) {
	ctx := context.Background()

	t.Run("open room", func(t *testing.T) {
		store := newMockStore(NewRoom("igloo1"))
		engine := newTestEngine(store, &mockVerifier{}, testConfig())
		quote := engine.CanRent(ctx, "W1", "igloo1")
		if !quote.CanRent || quote.DailyRent.Cmp(big.NewInt(10000)) != 0 {
			t.Fatalf("expected rentable at 10000, got %+v", quote)
		}
	})

	t.Run("unknown room", func(t *testing.T) {
		store := newMockStore()
		engine := newTestEngine(store, &mockVerifier{}, testConfig())
		quote := engine.CanRent(ctx, "W1", "nope")
		if quote.CanRent || quote.Code != CodeRoomNotFound {
			t.Fatalf("expected ROOM_NOT_FOUND, got %+v", quote)
		}
	})

	t.Run("reserved names the holder", func(t *testing.T) {
		room := NewRoom("vip")
		room.Reserved = true
		room.ReservedOwner = "RSVD"
		store := newMockStore(room)
		engine := newTestEngine(store, &mockVerifier{}, testConfig())
		quote := engine.CanRent(ctx, "W1", "vip")
		if quote.CanRent || quote.Code != CodeReserved {
			t.Fatalf("expected RESERVED, got %+v", quote)
		}
		if quote.Message != "igloo reserved for Chairman" {
			t.Fatalf("expected reserved holder in message, got %q", quote.Message)
		}
	})

	t.Run("permanent", func(t *testing.T) {
		room := NewRoom("hq")
		room.Permanent = true
		store := newMockStore(room)
		engine := newTestEngine(store, &mockVerifier{}, testConfig())
		if quote := engine.CanRent(ctx, "W1", "hq"); quote.Code != CodePermanentlyOwned {
			t.Fatalf("expected PERMANENTLY_OWNED, got %+v", quote)
		}
	})

	t.Run("already rented", func(t *testing.T) {
		room := NewRoom("igloo1")
		room.Rented = true
		room.OwnerWallet = "W9"
		store := newMockStore(room)
		engine := newTestEngine(store, &mockVerifier{}, testConfig())
		if quote := engine.CanRent(ctx, "W1", "igloo1"); quote.Code != CodeAlreadyRented {
			t.Fatalf("expected ALREADY_RENTED, got %+v", quote)
		}
	})

	t.Run("insufficient gating balance", func(t *testing.T) {
		store := newMockStore(NewRoom("igloo1"))
		verifier := &mockVerifier{balanceFn: func(string, string, uint64) payment.BalanceResult {
			return payment.BalanceResult{HasBalance: false, Balance: 5}
		}}
		cfg := testConfig()
		cfg.RentGateTokenAddress = "Mint"
		cfg.RentGateMinimum = 100
		engine := newTestEngine(store, verifier, cfg)
		if quote := engine.CanRent(ctx, "W1", "igloo1"); quote.Code != CodeInsufficientBalance {
			t.Fatalf("expected INSUFFICIENT_BALANCE, got %+v", quote)
		}
	})
}

func TestStartRental(t *testing.T) {
	ctx := context.Background()

	t.Run("success mutates the room", func(t *testing.T) {
		store := newMockStore(NewRoom("igloo1"))
		verifier := &mockVerifier{}
		engine := newTestEngine(store, verifier, testConfig())

		result := engine.StartRental(ctx, "W1", "igloo1", "payload")
		if !result.Success || result.TxHash == "" {
			t.Fatalf("expected success with tx hash, got %+v", result)
		}

		room := store.get(t, "igloo1")
		assertInvariant(t, room)
		if !room.Rented || room.OwnerWallet != "W1" || room.OwnerDisplayName != "Tux" {
			t.Fatalf("unexpected tenancy: %+v", room)
		}
		if room.RentStatus != RentCurrent {
			t.Fatalf("expected current status, got %s", room.RentStatus)
		}
		if !room.RentDueAt.Equal(testNow.Add(24 * time.Hour)) {
			t.Fatalf("expected due at now+24h, got %s", room.RentDueAt)
		}
		if room.AccessPolicy != AccessPrivate {
			t.Fatalf("expected private reset, got %s", room.AccessPolicy)
		}
		if room.Stats.TimesRented != 1 || room.Stats.TotalRentPaid.Cmp(big.NewInt(10000)) != 0 {
			t.Fatalf("unexpected stats: %+v", room.Stats)
		}
	})

	t.Run("verification failure propagates verbatim", func(t *testing.T) {
		store := newMockStore(NewRoom("igloo1"))
		verifier := &mockVerifier{verifyFn: func(string, payment.Expected) payment.VerifyResult {
			return payment.VerifyResult{Code: payment.CodeInvalidSignature}
		}}
		engine := newTestEngine(store, verifier, testConfig())
		result := engine.StartRental(ctx, "W1", "igloo1", "payload")
		if result.Success || result.Code != Code(payment.CodeInvalidSignature) {
			t.Fatalf("expected INVALID_SIGNATURE, got %+v", result)
		}
		if verifier.settleCalls.Load() != 0 {
			t.Fatal("settle must not run after failed verification")
		}
		if room := store.get(t, "igloo1"); room.Rented {
			t.Fatal("room must stay unrented")
		}
	})

	t.Run("settlement failure leaves room untouched", func(t *testing.T) {
		store := newMockStore(NewRoom("igloo1"))
		verifier := &mockVerifier{settleFn: func(string) payment.SettleResult {
			return payment.SettleResult{Code: payment.CodeSettlementFailed}
		}}
		engine := newTestEngine(store, verifier, testConfig())
		result := engine.StartRental(ctx, "W1", "igloo1", "payload")
		if result.Success || result.Code != Code(payment.CodeSettlementFailed) {
			t.Fatalf("expected SETTLEMENT_FAILED, got %+v", result)
		}
		room := store.get(t, "igloo1")
		if room.Rented || room.Version != 0 {
			t.Fatalf("room must be untouched, got %+v", room)
		}
	})

	t.Run("display name falls back to short wallet", func(t *testing.T) {
		store := newMockStore(NewRoom("igloo1"))
		engine := NewEngine(store, &mockVerifier{}, testConfig(),
			WithClock(func() time.Time { return testNow }))
		wallet := "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
		result := engine.StartRental(ctx, wallet, "igloo1", "payload")
		if !result.Success {
			t.Fatalf("expected success, got %+v", result)
		}
		room := store.get(t, "igloo1")
		if room.OwnerDisplayName != "9xQe…VFin" {
			t.Fatalf("expected abbreviated wallet, got %q", room.OwnerDisplayName)
		}
	})
}

func TestStartRentalConcurrentExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	store := newMockStore(NewRoom("igloo1"))
	verifier := &mockVerifier{}
	engine := newTestEngine(store, verifier, testConfig())

	const racers = 8
	results := make([]RentalResult, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = engine.StartRental(ctx, fmt.Sprintf("W%d", i), "igloo1", "payload")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, result := range results {
		if result.Success {
			successes++
		} else if result.Code != CodeAlreadyRented {
			t.Fatalf("loser should see ALREADY_RENTED, got %+v", result)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one winner, got %d", successes)
	}
	if got := verifier.settleCalls.Load(); got != 1 {
		t.Fatalf("expected exactly one settlement, got %d", got)
	}
	assertInvariant(t, store.get(t, "igloo1"))
}

func TestPayRent(t *testing.T) {
	ctx := context.Background()

	rentedRoom := func(status RentStatus) *Room {
		room := NewRoom("igloo1")
		room.Rented = true
		room.OwnerWallet = "W1"
		room.RentStatus = status
		room.RentDueAt = testNow.Add(-time.Hour)
		room.LastRentPaidAt = testNow.Add(-25 * time.Hour)
		return room
	}

	t.Run("grace recovers to current", func(t *testing.T) {
		store := newMockStore(rentedRoom(RentGrace))
		engine := newTestEngine(store, &mockVerifier{}, testConfig())
		result := engine.PayRent(ctx, "W1", "igloo1", "payload")
		if !result.Success {
			t.Fatalf("expected success, got %+v", result)
		}
		room := store.get(t, "igloo1")
		if room.RentStatus != RentCurrent {
			t.Fatalf("expected current, got %s", room.RentStatus)
		}
		if !room.RentDueAt.Equal(testNow.Add(24 * time.Hour)) {
			t.Fatalf("expected due exactly now+24h, got %s", room.RentDueAt)
		}
		if room.Stats.TotalRentPaid.Cmp(big.NewInt(10000)) != 0 {
			t.Fatalf("expected rent recorded, got %s", room.Stats.TotalRentPaid)
		}
	})

	t.Run("not owner", func(t *testing.T) {
		store := newMockStore(rentedRoom(RentCurrent))
		verifier := &mockVerifier{}
		engine := newTestEngine(store, verifier, testConfig())
		result := engine.PayRent(ctx, "W2", "igloo1", "payload")
		if result.Success || result.Code != CodeNotOwner {
			t.Fatalf("expected NOT_OWNER, got %+v", result)
		}
		if verifier.settleCalls.Load() != 0 {
			t.Fatal("no settlement for rejected caller")
		}
	})

	t.Run("unrented room", func(t *testing.T) {
		store := newMockStore(NewRoom("igloo1"))
		engine := newTestEngine(store, &mockVerifier{}, testConfig())
		if result := engine.PayRent(ctx, "W1", "igloo1", "payload"); result.Code != CodeNotOwner {
			t.Fatalf("expected NOT_OWNER, got %+v", result)
		}
	})
}

func TestLeaveIgloo(t *testing.T) {
	ctx := context.Background()

	t.Run("owner vacates", func(t *testing.T) {
		room := NewRoom("igloo1")
		room.Rented = true
		room.OwnerWallet = "W1"
		room.OwnerDisplayName = "Tux"
		room.RentStatus = RentCurrent
		room.AccessPolicy = AccessPublic
		room.Banner = Banner{Title: "party"}
		room.EntryFee = EntryFee{Enabled: true, Amount: big.NewInt(500)}
		room.PaidEntryFees = []EntryFeeReceipt{{Wallet: "W2", FeeVersion: 0}}
		store := newMockStore(room)
		engine := newTestEngine(store, &mockVerifier{}, testConfig())

		result := engine.LeaveIgloo(ctx, "W1", "igloo1")
		if !result.Success {
			t.Fatalf("expected success, got %+v", result)
		}
		got := store.get(t, "igloo1")
		assertInvariant(t, got)
		if got.Rented || got.RentStatus != RentNone || got.AccessPolicy != AccessPrivate {
			t.Fatalf("expected full reset, got %+v", got)
		}
		if got.Banner != (Banner{}) || got.EntryFee.Enabled || len(got.PaidEntryFees) != 0 {
			t.Fatalf("expected cleared settings, got %+v", got)
		}
		if got.EntryFeeVersion != 1 {
			t.Fatalf("expected fee version bump, got %d", got.EntryFeeVersion)
		}
	})

	t.Run("reserved room cannot be vacated", func(t *testing.T) {
		room := NewRoom("vip")
		room.Reserved = true
		room.ReservedOwner = "RSVD"
		room.Rented = true
		room.OwnerWallet = "RSVD"
		store := newMockStore(room)
		engine := newTestEngine(store, &mockVerifier{}, testConfig())
		if result := engine.LeaveIgloo(ctx, "RSVD", "vip"); result.Code != CodeReservedOwner {
			t.Fatalf("expected RESERVED_OWNER, got %+v", result)
		}
	})

	t.Run("non-owner rejected", func(t *testing.T) {
		room := NewRoom("igloo1")
		room.Rented = true
		room.OwnerWallet = "W1"
		store := newMockStore(room)
		engine := newTestEngine(store, &mockVerifier{}, testConfig())
		if result := engine.LeaveIgloo(ctx, "W2", "igloo1"); result.Code != CodeNotOwner {
			t.Fatalf("expected NOT_OWNER, got %+v", result)
		}
	})
}

func TestUpdateSettings(t *testing.T) {
	ctx := context.Background()

	ownedRoom := func() *Room {
		room := NewRoom("igloo1")
		room.Rented = true
		room.OwnerWallet = "W1"
		room.RentStatus = RentCurrent
		room.EntryFee = EntryFee{Enabled: true, Amount: big.NewInt(100)}
		room.PaidEntryFees = []EntryFeeReceipt{{Wallet: "W2", FeeVersion: 0, TxHash: "tx-old"}}
		return room
	}

	t.Run("fee amount change invalidates receipts", func(t *testing.T) {
		store := newMockStore(ownedRoom())
		engine := newTestEngine(store, &mockVerifier{}, testConfig())
		result := engine.UpdateSettings(ctx, "W1", "igloo1", SettingsPatch{
			EntryFee: &EntryFeePatch{Amount: big.NewInt(200)},
		})
		if !result.Success || !result.EntryFeesReset {
			t.Fatalf("expected reset, got %+v", result)
		}
		room := store.get(t, "igloo1")
		if room.EntryFeeVersion != 1 || len(room.PaidEntryFees) != 0 {
			t.Fatalf("expected cleared receipts at version 1, got %+v", room)
		}
		if room.EntryFee.Amount.Cmp(big.NewInt(200)) != 0 {
			t.Fatalf("expected amount 200, got %s", room.EntryFee.Amount)
		}
	})

	t.Run("token gate change invalidates receipts", func(t *testing.T) {
		store := newMockStore(ownedRoom())
		engine := newTestEngine(store, &mockVerifier{}, testConfig())
		enabled := true
		minimum := uint64(5)
		result := engine.UpdateSettings(ctx, "W1", "igloo1", SettingsPatch{
			TokenGate: &TokenGatePatch{Enabled: &enabled, MinimumBalance: &minimum},
		})
		if !result.Success || !result.EntryFeesReset {
			t.Fatalf("expected reset, got %+v", result)
		}
	})

	t.Run("banner change does not bump fee version", func(t *testing.T) {
		store := newMockStore(ownedRoom())
		engine := newTestEngine(store, &mockVerifier{}, testConfig())
		title := "new title"
		policy := AccessFee
		result := engine.UpdateSettings(ctx, "W1", "igloo1", SettingsPatch{
			AccessPolicy: &policy,
			Banner:       &BannerPatch{Title: &title},
		})
		if !result.Success || result.EntryFeesReset {
			t.Fatalf("expected no reset, got %+v", result)
		}
		room := store.get(t, "igloo1")
		if room.EntryFeeVersion != 0 || len(room.PaidEntryFees) != 1 {
			t.Fatalf("receipts must survive, got %+v", room)
		}
		if room.Banner.Title != "new title" || room.AccessPolicy != AccessFee {
			t.Fatalf("patch not applied: %+v", room)
		}
	})

	t.Run("same fee amount is not a change", func(t *testing.T) {
		store := newMockStore(ownedRoom())
		engine := newTestEngine(store, &mockVerifier{}, testConfig())
		result := engine.UpdateSettings(ctx, "W1", "igloo1", SettingsPatch{
			EntryFee: &EntryFeePatch{Amount: big.NewInt(100)},
		})
		if !result.Success || result.EntryFeesReset {
			t.Fatalf("expected no reset for identical amount, got %+v", result)
		}
	})

	t.Run("not owner", func(t *testing.T) {
		store := newMockStore(ownedRoom())
		engine := newTestEngine(store, &mockVerifier{}, testConfig())
		if result := engine.UpdateSettings(ctx, "W2", "igloo1", SettingsPatch{}); result.Code != CodeNotOwner {
			t.Fatalf("expected NOT_OWNER, got %+v", result)
		}
	})

	t.Run("invalid access policy", func(t *testing.T) {
		store := newMockStore(ownedRoom())
		engine := newTestEngine(store, &mockVerifier{}, testConfig())
		bogus := AccessPolicy("vip-only")
		if result := engine.UpdateSettings(ctx, "W1", "igloo1", SettingsPatch{AccessPolicy: &bogus}); result.Code != CodeInvalidSettings {
			t.Fatalf("expected INVALID_SETTINGS, got %+v", result)
		}
	})
}

func TestPayEntryFeeAndEnter(t *testing.T) {
	ctx := context.Background()

	feeRoom := func() *Room {
		room := NewRoom("igloo1")
		room.Rented = true
		room.OwnerWallet = "W1"
		room.RentStatus = RentCurrent
		room.AccessPolicy = AccessFee
		room.EntryFee = EntryFee{Enabled: true, Amount: big.NewInt(500)}
		return room
	}

	t.Run("pay then enter", func(t *testing.T) {
		store := newMockStore(feeRoom())
		verifier := &mockVerifier{}
		engine := newTestEngine(store, verifier, testConfig())

		before := engine.CanEnter(ctx, "W2", "igloo1", EntryProof{})
		if before.CanEnter || before.Reason != CodeEntryFeeRequired || !before.RequiresPayment {
			t.Fatalf("expected ENTRY_FEE_REQUIRED, got %+v", before)
		}
		if before.PaymentAmount.Cmp(big.NewInt(500)) != 0 {
			t.Fatalf("expected payment amount 500, got %s", before.PaymentAmount)
		}

		paid := engine.PayEntryFee(ctx, "W2", "igloo1", "payload")
		if !paid.Success || paid.TxHash == "" {
			t.Fatalf("expected fee payment, got %+v", paid)
		}

		after := engine.CanEnter(ctx, "W2", "igloo1", EntryProof{})
		if !after.CanEnter {
			t.Fatalf("expected entry after fee, got %+v", after)
		}

		room := store.get(t, "igloo1")
		if len(room.PaidEntryFees) != 1 || room.PaidEntryFees[0].Wallet != "W2" {
			t.Fatalf("expected receipt for W2, got %+v", room.PaidEntryFees)
		}
		if room.PaidEntryFees[0].FeeVersion != room.EntryFeeVersion {
			t.Fatal("receipt must carry the current fee version")
		}
		if room.Stats.TotalEntryFeesCollected.Cmp(big.NewInt(500)) != 0 {
			t.Fatalf("expected 500 collected, got %s", room.Stats.TotalEntryFeesCollected)
		}
	})

	t.Run("second payment is a no-op", func(t *testing.T) {
		store := newMockStore(feeRoom())
		verifier := &mockVerifier{}
		engine := newTestEngine(store, verifier, testConfig())
		first := engine.PayEntryFee(ctx, "W2", "igloo1", "payload")
		second := engine.PayEntryFee(ctx, "W2", "igloo1", "payload")
		if !second.Success || second.TxHash != first.TxHash {
			t.Fatalf("expected idempotent receipt, got %+v vs %+v", first, second)
		}
		if verifier.settleCalls.Load() != 1 {
			t.Fatalf("expected one settlement, got %d", verifier.settleCalls.Load())
		}
	})

	t.Run("fee disabled", func(t *testing.T) {
		room := feeRoom()
		room.EntryFee.Enabled = false
		store := newMockStore(room)
		engine := newTestEngine(store, &mockVerifier{}, testConfig())
		if result := engine.PayEntryFee(ctx, "W2", "igloo1", "payload"); result.Code != CodeEntryFeeNotDue {
			t.Fatalf("expected ENTRY_FEE_NOT_REQUIRED, got %+v", result)
		}
	})

	t.Run("fee change invalidates paid receipt", func(t *testing.T) {
		store := newMockStore(feeRoom())
		engine := newTestEngine(store, &mockVerifier{}, testConfig())
		if result := engine.PayEntryFee(ctx, "W2", "igloo1", "payload"); !result.Success {
			t.Fatalf("expected fee payment, got %+v", result)
		}
		if result := engine.UpdateSettings(ctx, "W1", "igloo1", SettingsPatch{
			EntryFee: &EntryFeePatch{Amount: big.NewInt(900)},
		}); !result.EntryFeesReset {
			t.Fatalf("expected receipts reset, got %+v", result)
		}
		decision := engine.CanEnter(ctx, "W2", "igloo1", EntryProof{})
		if decision.CanEnter || decision.Reason != CodeEntryFeeRequired {
			t.Fatalf("stale receipt must not admit, got %+v", decision)
		}
	})
}

func TestRecordVisit(t *testing.T) {
	ctx := context.Background()
	store := newMockStore(NewRoom("igloo1"))
	engine := newTestEngine(store, &mockVerifier{}, testConfig())

	for _, wallet := range []string{"W1", "W2", "W1"} {
		if err := engine.RecordVisit(ctx, "igloo1", wallet); err != nil {
			t.Fatalf("record visit: %v", err)
		}
	}
	room := store.get(t, "igloo1")
	if room.Stats.TotalVisits != 3 {
		t.Fatalf("expected 3 visits, got %d", room.Stats.TotalVisits)
	}
	if room.Stats.UniqueVisitorCount != 2 {
		t.Fatalf("expected 2 unique visitors, got %d", room.Stats.UniqueVisitorCount)
	}
}
