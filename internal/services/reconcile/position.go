package reconcile

import (
	"sort"

	"github.com/shopspring/decimal"

	"SignalDesk/internal/domain/models"
	applogger "SignalDesk/pkg/logger"
)

type legState struct {
	side models.PositionSide
	qty  decimal.Decimal
	avg  decimal.Decimal
}

// Book is the replayed position per symbol. It is immutable once returned.
type Book struct {
	legs       map[string]legState
	lastSymbol string
}

// Symbols lists every symbol seen in the ledger, sorted.
func (b *Book) Symbols() []string {
	out := make([]string, 0, len(b.legs))
	for s := range b.legs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// LastSymbol is the symbol of the most recent replayed fill.
func (b *Book) LastSymbol() string { return b.lastSymbol }

// Position returns the position for symbol without a mark.
func (b *Book) Position(symbol string) models.Position {
	st, ok := b.legs[symbol]
	if !ok || st.side == models.Flat {
		return models.FlatPosition(symbol)
	}
	return models.Position{
		Symbol:   symbol,
		Side:     st.side,
		Qty:      st.qty.InexactFloat64(),
		AvgEntry: st.avg.InexactFloat64(),
	}
}

func (b *Book) qty(symbol string) (models.PositionSide, decimal.Decimal) {
	st, ok := b.legs[symbol]
	if !ok {
		return models.Flat, decimal.Zero
	}
	return st.side, st.qty
}

// WithMark prices p at mark. A non-positive mark means unknown: mark and
// unrealized PnL are reported as zero.
func WithMark(p models.Position, mark float64) models.Position {
	p.UnrealizedPnL = 0
	if !(mark > 0) {
		p.Mark = 0
		return p
	}
	p.Mark = mark
	if p.Side == models.Flat {
		return p
	}
	m := decimal.NewFromFloat(mark)
	avg := decimal.NewFromFloat(p.AvgEntry)
	qty := decimal.NewFromFloat(p.Qty)
	diff := m.Sub(avg)
	if p.Side == models.Short {
		diff = avg.Sub(m)
	}
	p.UnrealizedPnL = diff.Mul(qty).Round(8).InexactFloat64()
	return p
}

// Reconciler replays fills into a FLAT/LONG/SHORT state machine per symbol.
type Reconciler struct {
	l *applogger.Logger
}

func NewReconciler() *Reconciler { return &Reconciler{} }

func (r *Reconciler) SetLogger(l *applogger.Logger) { r.l = l }

// Replay walks events in ledger order. Events that do not fit the current
// state are skipped and reported; a close larger than the open quantity
// flattens the leg and is reported as a shortfall.
func (r *Reconciler) Replay(events []models.TradeEvent) (*Book, []models.Warning) {
	book := &Book{legs: make(map[string]legState)}
	var warnings []models.Warning

	for _, ev := range events {
		if !ev.IsFill() {
			continue
		}
		st, ok := book.legs[ev.Symbol]
		if !ok {
			st = legState{side: models.Flat}
		}
		qty := decimal.NewFromFloat(ev.Qty)
		px := decimal.NewFromFloat(ev.FillPx)
		leg := ev.Side.Leg()

		switch {
		case ev.Side.IsOpen() && (st.side == models.Flat || st.side == leg):
			if st.side == models.Flat {
				st = legState{side: leg, qty: qty, avg: px}
			} else {
				total := st.qty.Add(qty)
				st.avg = st.avg.Mul(st.qty).Add(px.Mul(qty)).Div(total)
				st.qty = total
			}

		case !ev.Side.IsOpen() && st.side == leg:
			if qty.GreaterThan(st.qty) {
				warnings = append(warnings, r.flag(models.WarnShortfall, ev, st.side,
					"close qty "+qty.String()+" exceeds open qty "+st.qty.String()))
				qty = st.qty
			}
			st.qty = st.qty.Sub(qty)
			if st.qty.IsZero() {
				st = legState{side: models.Flat}
			}

		default:
			warnings = append(warnings, r.flag(models.WarnInconsistent, ev, st.side, ""))
			continue
		}
		book.legs[ev.Symbol] = st
		book.lastSymbol = ev.Symbol
	}
	return book, warnings
}

func (r *Reconciler) flag(kind string, ev models.TradeEvent, state models.PositionSide, detail string) models.Warning {
	e := &models.ReconciliationInconsistencyError{
		Kind: kind, OrderID: ev.OrderID, Symbol: ev.Symbol, State: state, Event: ev.Side, Detail: detail,
	}
	if r.l != nil {
		r.l.Warn("reconciliation inconsistency",
			applogger.String("kind", kind),
			applogger.String("order_id", ev.OrderID),
			applogger.String("symbol", ev.Symbol),
			applogger.String("state", string(state)),
			applogger.String("event", string(ev.Side)),
		)
	}
	return e.Warning()
}
