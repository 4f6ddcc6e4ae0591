package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"

	"SignalDesk/internal/domain/models"
)

// CrossCheck compares the FIFO residual with the replayed positions. Each
// symbol must agree on side and quantity.
func CrossCheck(book *Book, residuals []Residual) []models.Warning {
	fifo := make(map[string]Residual, len(residuals))
	for _, r := range residuals {
		fifo[r.Symbol] = r
	}

	var out []models.Warning
	seen := make(map[string]struct{})
	check := func(symbol string) {
		if _, ok := seen[symbol]; ok {
			return
		}
		seen[symbol] = struct{}{}

		side, qty := book.qty(symbol)
		r, ok := fifo[symbol]
		if !ok {
			r = Residual{Symbol: symbol, Side: models.Flat, Qty: decimal.Zero}
		}
		if side == r.Side && qty.Equal(r.Qty) {
			return
		}
		out = append(out, models.Warning{
			Kind:   models.WarnCrossCheck,
			Symbol: symbol,
			Message: fmt.Sprintf("position %s %s vs fifo residual %s %s",
				side, qty.String(), r.Side, r.Qty.String()),
		})
	}
	for _, s := range book.Symbols() {
		check(s)
	}
	for _, r := range residuals {
		check(r.Symbol)
	}
	return out
}

// Replay runs both replays over the same events and merges their warnings.
type Replay struct {
	Book       *Book
	Roundtrips []models.Roundtrip
	Warnings   []models.Warning
}

func Run(r *Reconciler, b *RoundtripBuilder, events []models.TradeEvent) Replay {
	book, warnings := r.Replay(events)
	rt := b.Build(events)

	type wkey struct{ kind, order string }
	seen := make(map[wkey]struct{}, len(warnings))
	for _, w := range warnings {
		seen[wkey{w.Kind, w.OrderID}] = struct{}{}
	}
	for _, w := range rt.Warnings {
		if _, dup := seen[wkey{w.Kind, w.OrderID}]; dup {
			continue
		}
		warnings = append(warnings, w)
	}
	warnings = append(warnings, CrossCheck(book, rt.Residuals)...)

	return Replay{Book: book, Roundtrips: rt.Roundtrips, Warnings: warnings}
}
