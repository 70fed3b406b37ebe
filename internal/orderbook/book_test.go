package orderbook

import (
	"testing"

	"predictionmarket/internal/model"
)

func order(id uint64, user uint32, dir model.Direction, priceCents int, qty uint32) *model.Order {
	return model.NewOrder(id, user, "m1", model.SideYes, dir, priceCents, qty)
}

func TestAddAndBestBidAsk(t *testing.T) {
	b := New()

	b.Add(order(1, 1, model.Buy, 40, 10))
	b.Add(order(2, 1, model.Buy, 45, 5))
	b.Add(order(3, 2, model.Sell, 55, 10))
	b.Add(order(4, 2, model.Sell, 60, 5))

	if b.Size() != 4 {
		t.Fatalf("expected size 4, got %d", b.Size())
	}
	if bb, ok := b.BestBidCents(); !ok || bb != 45 {
		t.Fatalf("expected best bid 45, got %v ok=%v", bb, ok)
	}
	if ba, ok := b.BestAskCents(); !ok || ba != 55 {
		t.Fatalf("expected best ask 55, got %v ok=%v", ba, ok)
	}
}

func TestFIFOWithinLevel(t *testing.T) {
	b := New()
	b.Add(order(1, 2, model.Sell, 50, 3))
	b.Add(order(2, 2, model.Sell, 50, 3))

	filled, id, _, ok := b.ConsumeBestAsk(4)
	if !ok || filled != 3 || id != 1 {
		t.Fatalf("expected first consume to fully drain order 1 (3), got filled=%d id=%d ok=%v", filled, id, ok)
	}
	filled, id, _, ok = b.ConsumeBestAsk(1)
	if !ok || filled != 1 || id != 2 {
		t.Fatalf("expected second consume to take 1 from order 2, got filled=%d id=%d ok=%v", filled, id, ok)
	}
	if b.Size() != 1 {
		t.Fatalf("expected order 2 still resting with 2 remaining, size=%d", b.Size())
	}
}

func TestPartialFillRewrittenAtHead(t *testing.T) {
	b := New()
	b.Add(order(1, 2, model.Sell, 50, 10))

	filled, id, user, ok := b.ConsumeBestAsk(3)
	if !ok || filled != 3 || id != 1 || user != 2 {
		t.Fatalf("unexpected partial fill result: filled=%d id=%d user=%d ok=%v", filled, id, user, ok)
	}
	head := b.PeekBestAsk()
	if head == nil || head.ID != 1 || head.Quantity != 7 {
		t.Fatalf("expected order 1 still at head with quantity 7, got %+v", head)
	}
}

func TestRemove(t *testing.T) {
	b := New()
	b.Add(order(1, 1, model.Buy, 50, 5))
	b.Add(order(2, 1, model.Buy, 50, 3))

	removed := b.Remove(1)
	if removed == nil || removed.ID != 1 {
		t.Fatal("expected to remove order 1")
	}
	if b.Size() != 1 {
		t.Fatalf("expected size 1 after remove, got %d", b.Size())
	}
	if bb, ok := b.BestBidCents(); !ok || bb != 50 {
		t.Fatal("best bid should still be 50")
	}
}

func TestRemoveLastAtLevelPrunesLevel(t *testing.T) {
	b := New()
	b.Add(order(1, 1, model.Sell, 50, 5))
	b.Remove(1)

	if _, ok := b.BestAskCents(); ok {
		t.Fatal("expected no best ask after removing the only order")
	}
	if b.Size() != 0 {
		t.Fatal("expected empty book")
	}
}

func TestDuplicateAddIgnored(t *testing.T) {
	b := New()
	b.Add(order(1, 1, model.Buy, 50, 5))
	b.Add(order(1, 1, model.Buy, 50, 5))

	if b.Size() != 1 {
		t.Fatalf("expected size 1 (dup ignored), got %d", b.Size())
	}
}

func TestDepthAscendingBothSides(t *testing.T) {
	b := New()
	b.Add(order(1, 1, model.Buy, 40, 1))
	b.Add(order(2, 1, model.Buy, 45, 1))
	b.Add(order(3, 2, model.Sell, 51, 1))
	b.Add(order(4, 2, model.Sell, 55, 1))

	bids, asks := b.Depth()
	if len(bids) != 2 || len(asks) != 2 {
		t.Fatalf("expected 2 levels per side, got bids=%d asks=%d", len(bids), len(asks))
	}
	if !bids[0].Price.Equal(model.CentsToPrice(40)) {
		t.Fatalf("expected bids ascending, first level 0.40, got %s", bids[0].Price)
	}
	if !asks[0].Price.Equal(model.CentsToPrice(51)) {
		t.Fatalf("expected asks ascending, first level 0.51, got %s", asks[0].Price)
	}
}

func TestOpenOrdersFiltersByUser(t *testing.T) {
	b := New()
	b.Add(order(1, 1, model.Buy, 40, 1))
	b.Add(order(2, 2, model.Buy, 41, 1))
	b.Add(order(3, 1, model.Sell, 60, 1))

	open := b.OpenOrders(1)
	if len(open) != 2 {
		t.Fatalf("expected 2 open orders for user 1, got %d", len(open))
	}
}

func TestConsumeBestBidHighestFirst(t *testing.T) {
	b := New()
	b.Add(order(1, 1, model.Buy, 40, 5))
	b.Add(order(2, 1, model.Buy, 45, 5))

	filled, id, _, ok := b.ConsumeBestBid(2)
	if !ok || filled != 2 || id != 2 {
		t.Fatalf("expected to consume from highest bid (45, id 2) first, got filled=%d id=%d ok=%v", filled, id, ok)
	}
}
