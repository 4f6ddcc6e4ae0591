package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"SignalDesk/internal/domain/models"
	applogger "SignalDesk/pkg/logger"
)

type lot struct {
	entryTS   time.Time
	entryPx   decimal.Decimal
	remaining decimal.Decimal
	orderID   string
}

type legKey struct {
	symbol string
	side   models.PositionSide
}

// queue is a FIFO of indices into the builder arena. Consumed lots are
// skipped by advancing head, never removed.
type queue struct {
	idx  []int
	head int
}

func (q *queue) empty() bool { return q.head >= len(q.idx) }

// Residual is the unmatched open quantity of one (symbol, side).
type Residual struct {
	Symbol string
	Side   models.PositionSide
	Qty    decimal.Decimal
}

type RoundtripResult struct {
	Roundtrips []models.Roundtrip
	Residuals  []Residual
	Warnings   []models.Warning
}

// RoundtripBuilder pairs closes with opens oldest-first.
type RoundtripBuilder struct {
	l *applogger.Logger
}

func NewRoundtripBuilder() *RoundtripBuilder { return &RoundtripBuilder{} }

func (b *RoundtripBuilder) SetLogger(l *applogger.Logger) { b.l = l }

func (b *RoundtripBuilder) Build(events []models.TradeEvent) RoundtripResult {
	var (
		arena  []lot
		queues = make(map[legKey]*queue)
		keys   []legKey
		res    RoundtripResult
	)
	get := func(k legKey) *queue {
		q, ok := queues[k]
		if !ok {
			q = &queue{}
			queues[k] = q
			keys = append(keys, k)
		}
		return q
	}
	opposite := func(s models.PositionSide) models.PositionSide {
		if s == models.Long {
			return models.Short
		}
		return models.Long
	}

	for _, ev := range events {
		if !ev.IsFill() {
			continue
		}
		leg := ev.Side.Leg()
		q := get(legKey{ev.Symbol, leg})
		qty := decimal.NewFromFloat(ev.Qty)
		px := decimal.NewFromFloat(ev.FillPx)

		if ev.Side.IsOpen() {
			if !get(legKey{ev.Symbol, opposite(leg)}).empty() {
				res.Warnings = append(res.Warnings, b.warn(models.WarnInconsistent, ev, "open against an opposite position"))
				continue
			}
			arena = append(arena, lot{entryTS: ev.TS, entryPx: px, remaining: qty, orderID: ev.OrderID})
			q.idx = append(q.idx, len(arena)-1)
			continue
		}

		if q.empty() {
			res.Warnings = append(res.Warnings, b.warn(models.WarnInconsistent, ev, "close without open lots"))
			continue
		}
		left := qty
		for left.IsPositive() && !q.empty() {
			lt := &arena[q.idx[q.head]]
			take := decimal.Min(left, lt.remaining)
			rt, skewed := pair(ev, leg, lt, take, px)
			if skewed {
				res.Warnings = append(res.Warnings, b.warn(models.WarnClockSkew, ev, "exit precedes entry "+lt.orderID))
			}
			res.Roundtrips = append(res.Roundtrips, rt)

			lt.remaining = lt.remaining.Sub(take)
			left = left.Sub(take)
			if lt.remaining.IsZero() {
				q.head++
			}
		}
		if left.IsPositive() {
			res.Warnings = append(res.Warnings, b.warn(models.WarnShortfall, ev, "unmatched close qty "+left.String()))
		}
	}

	for _, k := range keys {
		q := queues[k]
		total := decimal.Zero
		for _, i := range q.idx[q.head:] {
			total = total.Add(arena[i].remaining)
		}
		if total.IsPositive() {
			res.Residuals = append(res.Residuals, Residual{Symbol: k.symbol, Side: k.side, Qty: total})
		}
	}
	return res
}

func pair(ev models.TradeEvent, side models.PositionSide, lt *lot, qty, exitPx decimal.Decimal) (models.Roundtrip, bool) {
	pnl := exitPx.Sub(lt.entryPx).Mul(qty)
	if side == models.Short {
		pnl = lt.entryPx.Sub(exitPx).Mul(qty)
	}
	exitTS := ev.TS
	skewed := exitTS.Before(lt.entryTS)
	if skewed {
		exitTS = lt.entryTS
	}
	return models.Roundtrip{
		EntryTS:   lt.entryTS,
		ExitTS:    exitTS,
		Side:      side,
		Symbol:    ev.Symbol,
		EntryPx:   lt.entryPx.InexactFloat64(),
		ExitPx:    exitPx.InexactFloat64(),
		Qty:       qty.InexactFloat64(),
		PnLQuote:  pnl.Round(8).InexactFloat64(),
		HoldHours: exitTS.Sub(lt.entryTS).Hours(),
		EntryID:   lt.orderID,
		ExitID:    ev.OrderID,
	}, skewed
}

func (b *RoundtripBuilder) warn(kind string, ev models.TradeEvent, msg string) models.Warning {
	if b.l != nil {
		b.l.Warn("roundtrip matching",
			applogger.String("kind", kind),
			applogger.String("order_id", ev.OrderID),
			applogger.String("symbol", ev.Symbol),
			applogger.String("detail", msg),
		)
	}
	return models.Warning{Kind: kind, OrderID: ev.OrderID, Symbol: ev.Symbol, Message: msg}
}
