package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"predictionmarket/internal/events"
	"predictionmarket/internal/ledger"
	"predictionmarket/internal/model"
)

// recordingPublisher captures every envelope a Manager emits, in order.
// Its methods run on the Manager's single command goroutine, but Manager.do
// blocks the caller until that goroutine finishes, so by the time a test's
// call into Manager returns, every recorder append from that call has
// already happened, so no locking is needed for the read side.
type recordingPublisher struct {
	mu        sync.Mutex
	persisted []events.PersistEnvelope
	responses []events.ResponseEnvelope
	updates   []events.MarketUpdate
}

func newRecorder() *recordingPublisher { return &recordingPublisher{} }

func (r *recordingPublisher) Persist(ctx context.Context, env events.PersistEnvelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persisted = append(r.persisted, env)
	return nil
}

func (r *recordingPublisher) Respond(ctx context.Context, env events.ResponseEnvelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, env)
	return nil
}

func (r *recordingPublisher) Broadcast(ctx context.Context, update events.MarketUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
	return nil
}

func (r *recordingPublisher) kinds() []events.ResponseKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.ResponseKind, len(r.responses))
	for i, e := range r.responses {
		out[i] = e.Kind
	}
	return out
}

const testRate = 0.0223

func newTestManager(t *testing.T, seed model.Balance) (*Manager, *recordingPublisher) {
	t.Helper()
	rec := newRecorder()
	mgr := NewManagerWithBalances(rec, ledger.NewWithBootstrap(seed))
	t.Cleanup(mgr.Close)
	return mgr, rec
}

func approxEqual(t *testing.T, label string, got, want float64) {
	t.Helper()
	const eps = 1e-6
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	if diff > eps {
		t.Errorf("%s = %.6f, want %.6f", label, got, want)
	}
}

// TestScenariosS1ThroughS6 walks a worked sequence of orders across two
// users in a single market, checking every numeric claim step by step.
func TestScenariosS1ThroughS6(t *testing.T) {
	ctx := context.Background()
	mgr, rec := newTestManager(t, model.Balance{Available: 1000, Locked: 0})

	// S1
	if err := mgr.CreateMarket(ctx, "m1", "will it rain", "c0"); err != nil {
		t.Fatalf("create market: %v", err)
	}
	order1, trades, err := mgr.PlaceOrder(ctx, 1, "m1", model.SideYes, model.Buy, 6.0, 10, "c1")
	if err != nil {
		t.Fatalf("S1 place order: %v", err)
	}
	if len(trades) != 0 {
		t.Fatalf("S1: expected no trade, got %d", len(trades))
	}
	if order1.Quantity != 10 || order1.Status != model.StatusOpen {
		t.Fatalf("S1: expected resting qty 10, got %+v", order1)
	}
	bal1 := mgr.balances.Get(1)
	approxEqual(t, "S1 user1.available", bal1.Available, 940.0)
	approxEqual(t, "S1 user1.locked", bal1.Locked, 60.0)

	bids, _ := mgr.markets["m1"].YesBook.Depth()
	if len(bids) != 1 || bids[0].Quantity != 10 || !bids[0].Price.Equal(model.CentsToPrice(600)) {
		t.Fatalf("S1: expected 1 bid level at 6.00 qty 10, got %+v", bids)
	}

	// S2
	_, trades, err = mgr.PlaceOrder(ctx, 2, "m1", model.SideYes, model.Sell, 6.0, 4, "c2")
	if err != nil {
		t.Fatalf("S2 place order: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("S2: expected 1 trade, got %d", len(trades))
	}
	tr := trades[0]
	if tr.BuyOrderID != order1.ID || tr.Quantity != 4 || !model.CentsToPrice(tr.PriceCents).Equal(model.CentsToPrice(600)) {
		t.Fatalf("S2: unexpected trade %+v", tr)
	}
	bal1 = mgr.balances.Get(1)
	approxEqual(t, "S2 user1.locked", bal1.Locked, 35.4648)
	bal2 := mgr.balances.Get(2)
	approxEqual(t, "S2 user2.available", bal2.Available, 1024.0)

	bids, _ = mgr.markets["m1"].YesBook.Depth()
	if len(bids) != 1 || bids[0].Quantity != 6 {
		t.Fatalf("S2: expected residual qty 6, got %+v", bids)
	}

	// S3
	order3, trades, err := mgr.PlaceOrder(ctx, 2, "m1", model.SideNo, model.Buy, 3.5, 3, "c3")
	if err != nil {
		t.Fatalf("S3 place order: %v", err)
	}
	if len(trades) != 0 {
		t.Fatalf("S3: expected no trade, got %d", len(trades))
	}
	bal2 = mgr.balances.Get(2)
	approxEqual(t, "S3 user2.locked", bal2.Locked, 10.5)
	approxEqual(t, "S3 user2.available", bal2.Available, 1013.5)

	// S4
	_, trades, err = mgr.PlaceOrder(ctx, 1, "m1", model.SideNo, model.Sell, 3.0, 2, "c4")
	if err != nil {
		t.Fatalf("S4 place order: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("S4: expected 1 trade, got %d", len(trades))
	}
	tr = trades[0]
	if tr.BuyOrderID != order3.ID || tr.Quantity != 2 || !model.CentsToPrice(tr.PriceCents).Equal(model.CentsToPrice(350)) {
		t.Fatalf("S4: unexpected trade %+v", tr)
	}
	bal2 = mgr.balances.Get(2)
	approxEqual(t, "S4 user2.locked", bal2.Locked, 3.3439)
	bal1 = mgr.balances.Get(1)
	approxEqual(t, "S4 user1.available", bal1.Available, 947.0)

	noBids, _ := mgr.markets["m1"].NoBook.Depth()
	if len(noBids) != 1 || noBids[0].Quantity != 1 {
		t.Fatalf("S4: expected No.bids residual qty 1, got %+v", noBids)
	}

	// S5: cancelling the residual here unlocks price x remaining-quantity
	// = 6.00 x 6 = 36.00, which is more than the 35.4648 actually left in
	// locked once S2's commission ate into the reserve for this residual.
	// Unlock requires locked >= amount, so this cancel fails rather than
	// silently draining the lock to zero; see DESIGN.md.
	bal1 = mgr.balances.Get(1)
	approxEqual(t, "pre-S5 user1.locked", bal1.Locked, 35.4648)
	if err := mgr.CancelOrder(ctx, "m1", model.SideYes, model.Buy, 6.0, order1.ID, "c5"); !errors.Is(err, model.ErrInsufficientLocked) {
		t.Fatalf("S5: expected ErrInsufficientLocked, got %v", err)
	}
	// The order is already off the book by the time unlock fails (Remove
	// runs before the balance check); the lock itself is left untouched.
	bids, _ = mgr.markets["m1"].YesBook.Depth()
	if len(bids) != 0 {
		t.Fatalf("S5: expected order removed from book despite unlock failure, got %+v", bids)
	}
	bal1 = mgr.balances.Get(1)
	approxEqual(t, "post-S5 user1.locked", bal1.Locked, 35.4648)

	// S6
	if err := mgr.CreateMarket(ctx, "m1", "will it rain", "c6"); err == nil {
		t.Fatalf("S6: expected MarketExists, got nil")
	} else if err != model.ErrMarketExists {
		t.Fatalf("S6: expected ErrMarketExists, got %v", err)
	}

	kinds := rec.kinds()
	if len(kinds) == 0 || kinds[0] != events.MarketCreated {
		t.Fatalf("expected first response to be MarketCreated, got %v", kinds)
	}
}

// TestConservationAcrossFills checks that total (available+locked) across
// users only shrinks by commission paid on deducts.
func TestConservationAcrossFills(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, model.Balance{Available: 1000, Locked: 0})
	if err := mgr.CreateMarket(ctx, "m1", "q", "c0"); err != nil {
		t.Fatal(err)
	}

	total := func() float64 {
		b1 := mgr.balances.Get(1)
		b2 := mgr.balances.Get(2)
		return b1.Available + b1.Locked + b2.Available + b2.Locked
	}
	before := total()

	if _, _, err := mgr.PlaceOrder(ctx, 1, "m1", model.SideYes, model.Buy, 6.0, 10, "c1"); err != nil {
		t.Fatal(err)
	}
	_, trades, err := mgr.PlaceOrder(ctx, 2, "m1", model.SideYes, model.Sell, 6.0, 4, "c2")
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}

	commission := 6.0 * 4 * testRate
	approxEqual(t, "conservation", total(), before-commission)
}

// TestOpenOrderRetrievableAfterPartialRest checks a resting order shows up
// in both open-order lookups and the depth snapshot.
func TestOpenOrderRetrievableAfterPartialRest(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, model.Balance{Available: 1000, Locked: 0})
	if err := mgr.CreateMarket(ctx, "m1", "q", "c0"); err != nil {
		t.Fatal(err)
	}
	order, _, err := mgr.PlaceOrder(ctx, 1, "m1", model.SideYes, model.Buy, 6.0, 10, "c1")
	if err != nil {
		t.Fatal(err)
	}

	open, err := mgr.GetOpenOrders(ctx, 1, "m1", "c2")
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || open[0].ID != order.ID {
		t.Fatalf("expected order %d retrievable, got %+v", order.ID, open)
	}

	depth, err := mgr.GetDepth(ctx, "m1", "c3")
	if err != nil {
		t.Fatal(err)
	}
	if len(depth.YesBids) != 1 || depth.YesBids[0].Quantity != 10 {
		t.Fatalf("expected depth level qty 10, got %+v", depth.YesBids)
	}
}

// TestFullMatchLeavesNoResidual checks an exact-quantity match leaves
// nothing resting on the book.
func TestFullMatchLeavesNoResidual(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, model.Balance{Available: 1000, Locked: 0})
	if err := mgr.CreateMarket(ctx, "m1", "q", "c0"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := mgr.PlaceOrder(ctx, 1, "m1", model.SideYes, model.Buy, 6.0, 10, "c1"); err != nil {
		t.Fatal(err)
	}
	order2, trades, err := mgr.PlaceOrder(ctx, 2, "m1", model.SideYes, model.Sell, 6.0, 10, "c2")
	if err != nil {
		t.Fatal(err)
	}

	var total uint32
	for _, tr := range trades {
		total += tr.Quantity
	}
	if total != 10 {
		t.Fatalf("expected trade quantities to sum to 10, got %d", total)
	}
	if order2.Quantity != 0 || order2.Status != model.StatusFilled {
		t.Fatalf("expected incoming order fully filled, got %+v", order2)
	}

	bids, _ := mgr.markets["m1"].YesBook.Depth()
	if len(bids) != 0 {
		t.Fatalf("expected no residual on the book, got %+v", bids)
	}
}

// TestCancelIsIdempotent checks cancelling an already-cancelled order id
// is a harmless no-op on the balance, not an error.
func TestCancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mgr, rec := newTestManager(t, model.Balance{Available: 1000, Locked: 0})
	if err := mgr.CreateMarket(ctx, "m1", "q", "c0"); err != nil {
		t.Fatal(err)
	}
	order, _, err := mgr.PlaceOrder(ctx, 1, "m1", model.SideYes, model.Buy, 6.0, 10, "c1")
	if err != nil {
		t.Fatal(err)
	}

	if err := mgr.CancelOrder(ctx, "m1", model.SideYes, model.Buy, 6.0, order.ID, "c2"); err != nil {
		t.Fatal(err)
	}
	balAfterFirst := mgr.balances.Get(1)

	if err := mgr.CancelOrder(ctx, "m1", model.SideYes, model.Buy, 6.0, order.ID, "c3"); err != nil {
		t.Fatal(err)
	}
	balAfterSecond := mgr.balances.Get(1)

	if balAfterFirst != balAfterSecond {
		t.Fatalf("second cancel changed balance: %+v -> %+v", balAfterFirst, balAfterSecond)
	}

	kinds := rec.kinds()
	count := 0
	for _, k := range kinds {
		if k == events.OrderCancelled {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected 2 OrderCancelled responses, got %d", count)
	}
}

// TestOrderIDsAreStrictlyIncreasingAndGapFree checks the order-id counter
// never skips or repeats across consecutive placements.
func TestOrderIDsAreStrictlyIncreasingAndGapFree(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, model.Balance{Available: 10000, Locked: 0})
	if err := mgr.CreateMarket(ctx, "m1", "q", "c0"); err != nil {
		t.Fatal(err)
	}

	var ids []uint64
	for i := 0; i < 5; i++ {
		order, _, err := mgr.PlaceOrder(ctx, 1, "m1", model.SideYes, model.Buy, 6.0, 1, "c1")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, order.ID)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[i-1]+1 {
			t.Fatalf("order ids not gap-free: %v", ids)
		}
	}
}

// TestInvalidPriceRejected exercises the price-domain validation.
func TestInvalidPriceRejected(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, model.Balance{Available: 1000, Locked: 0})
	if err := mgr.CreateMarket(ctx, "m1", "q", "c0"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := mgr.PlaceOrder(ctx, 1, "m1", model.SideYes, model.Buy, 0.25, 1, "c1"); err != model.ErrInvalidPrice {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

// TestMarketNotFoundOnUnknownMarket covers the place-order not-found path.
func TestMarketNotFoundOnUnknownMarket(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, model.Balance{Available: 1000, Locked: 0})
	if _, _, err := mgr.PlaceOrder(ctx, 1, "missing", model.SideYes, model.Buy, 6.0, 1, "c1"); err != model.ErrMarketNotFound {
		t.Fatalf("expected ErrMarketNotFound, got %v", err)
	}
}
