package engine

import (
	"testing"

	"github.com/rs/zerolog"
	"pgregory.net/rapid"

	. "github.com/research-ag/icrc1-auction/internal/common"
	"github.com/research-ag/icrc1-auction/internal/credit"
)

var propertyUsers = []UserID{"alice", "bob", "carol", "dave"}

func drawBook(t *rapid.T) (*Engine, *credit.Ledger, AssetID, map[OrderID]Order) {
	credits := credit.New()
	eng := New(credits, "quote", Config{}, zerolog.Nop())
	asset, err := eng.RegisterAsset("asset", 0)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, u := range propertyUsers {
		credits.Credit(u, QuoteAsset, 1_000_000)
		credits.Credit(u, asset, 1_000)
	}

	quoted := make(map[OrderID]Order)
	n := rapid.IntRange(1, 40).Draw(t, "orders")
	for i := 0; i < n; i++ {
		owner := rapid.SampledFrom(propertyUsers).Draw(t, "owner")
		side := rapid.SampledFrom([]Side{Bid, Ask}).Draw(t, "side")
		kind := rapid.SampledFrom(BookKinds).Draw(t, "kind")
		price := float64(rapid.IntRange(1, 400).Draw(t, "price")) / 4
		volume := rapid.Uint64Range(1, 120).Draw(t, "volume")

		res, err := eng.Place(owner, asset, side, kind, price, volume)
		if err != nil {
			// Rejections are part of the game.
			continue
		}
		quoted[res.ID] = Order{ID: res.ID, Side: side, Price: price}
		if res.Report != nil {
			checkReport(t, *res.Report, quoted)
		}
	}
	return eng, credits, asset, quoted
}

// checkReport asserts that every fill trades at the report's single price
// and that no participant trades worse than its limit.
func checkReport(t *rapid.T, report ClearingReport, quoted map[OrderID]Order) {
	var bought, sold uint64
	for _, f := range report.Fills {
		if f.Price != report.Price {
			t.Fatalf("fill at %v in a pass clearing at %v", f.Price, report.Price)
		}
		q := quoted[f.OrderID]
		switch f.Side {
		case Bid:
			bought += f.Volume
			if report.Price > q.Price {
				t.Fatalf("bid %d at %v charged %v", f.OrderID, q.Price, report.Price)
			}
		case Ask:
			sold += f.Volume
			if report.Price < q.Price {
				t.Fatalf("ask %d at %v paid %v", f.OrderID, q.Price, report.Price)
			}
		}
		if f.Quote > LockAmount(Bid, f.Volume, q.Price) && f.Side == Bid {
			t.Fatalf("bid %d paid %d for %d units", f.OrderID, f.Quote, f.Volume)
		}
	}
	if bought != sold || bought != report.Volume {
		t.Fatalf("bought %d sold %d reported %d", bought, sold, report.Volume)
	}
}

// checkLocks asserts that every locked unit is backed by a resting order.
func checkLocks(t *rapid.T, eng *Engine, credits *credit.Ledger, asset AssetID) {
	for _, u := range propertyUsers {
		var quote, base uint64
		for _, o := range eng.Orders(u, Bid) {
			quote += o.Locked
			if o.Locked < LockAmount(Bid, o.Volume, o.Price) {
				t.Fatalf("bid %d underfunded: %d locked", o.ID, o.Locked)
			}
		}
		for _, o := range eng.Orders(u, Ask) {
			base += o.Locked
			if o.Locked != o.Volume {
				t.Fatalf("ask %d locks %d for %d units", o.ID, o.Locked, o.Volume)
			}
		}
		if got := credits.Account(u, QuoteAsset).Locked; got != quote {
			t.Fatalf("%s quote locked %d, orders hold %d", u, got, quote)
		}
		if got := credits.Account(u, asset).Locked; got != base {
			t.Fatalf("%s asset locked %d, orders hold %d", u, got, base)
		}
	}
}

func TestProperty_ClearingConservesCredit(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		eng, credits, asset, quoted := drawBook(t)
		want := uint64(len(propertyUsers))
		checkLocks(t, eng, credits, asset)

		report := eng.Clear(asset, 0, nil)
		checkReport(t, report, quoted)
		checkLocks(t, eng, credits, asset)

		if got := credits.Total(QuoteAsset); got != want*1_000_000 {
			t.Fatalf("quote total %d", got)
		}
		if got := credits.Total(asset); got != want*1_000 {
			t.Fatalf("asset total %d", got)
		}
		if eng.Indicative(asset).Matched {
			t.Fatalf("book still crossed after clearing")
		}
	})
}

func TestProperty_PriorityPreserved(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		eng, credits, asset, _ := drawBook(t)
		before := make(map[OrderID]Order)
		for _, u := range propertyUsers {
			for _, o := range eng.Orders(u, Bid) {
				before[o.ID] = o
			}
		}
		eng.Clear(asset, 0, nil)
		checkLocks(t, eng, credits, asset)

		// An earlier bid at the same price is filled at least as much as a
		// later one.
		filled := func(o Order) uint64 {
			if after, ok := eng.Order(o.ID); ok {
				return o.Volume - after.Volume
			}
			return o.Volume
		}
		for _, a := range before {
			for _, b := range before {
				if a.Price != b.Price || a.ID >= b.ID {
					continue
				}
				if _, ok := eng.Order(a.ID); ok && filled(b) > 0 {
					t.Fatalf("bid %d filled while earlier bid %d still rests", b.ID, a.ID)
				}
			}
		}
	})
}
