package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"SignalDesk/pkg/util"
)

type TradeSide string

const (
	OpenLong   TradeSide = "OPEN_LONG"
	CloseLong  TradeSide = "CLOSE_LONG"
	OpenShort  TradeSide = "OPEN_SHORT"
	CloseShort TradeSide = "CLOSE_SHORT"
)

func (s TradeSide) Valid() bool {
	switch s {
	case OpenLong, CloseLong, OpenShort, CloseShort:
		return true
	}
	return false
}

func (s TradeSide) IsOpen() bool { return s == OpenLong || s == OpenShort }

// Leg is the position side the event acts on.
func (s TradeSide) Leg() PositionSide {
	if s == OpenShort || s == CloseShort {
		return Short
	}
	return Long
}

// TradeEvent is one fill reported by the execution bot. Immutable once appended.
type TradeEvent struct {
	TS      time.Time `json:"ts"`
	Side    TradeSide `json:"side" validate:"required,oneof=OPEN_LONG CLOSE_LONG OPEN_SHORT CLOSE_SHORT"`
	Symbol  string    `json:"symbol" validate:"required"`
	FillPx  float64   `json:"fill_px" validate:"gt=0"`
	Qty     float64   `json:"qty" validate:"gt=0"`
	OrderID string    `json:"order_id" validate:"required"`
	Status  string    `json:"status"`
}

// IsFill reports whether the event moved inventory. Rejected or
// cancelled orders are journalled but never replayed.
func (e TradeEvent) IsFill() bool {
	switch strings.ToLower(e.Status) {
	case "", "filled", "partially_filled", "partial":
		return true
	}
	return false
}

// Check is the minimal validity gate used when reading the ledger back.
func (e TradeEvent) Check() error {
	switch {
	case !e.Side.Valid():
		return fmt.Errorf("unknown side %q", e.Side)
	case e.Symbol == "":
		return fmt.Errorf("missing symbol")
	case e.OrderID == "":
		return fmt.Errorf("missing order_id")
	case !(e.Qty > 0):
		return fmt.Errorf("qty must be positive, got %v", e.Qty)
	case !(e.FillPx > 0):
		return fmt.Errorf("fill_px must be positive, got %v", e.FillPx)
	case e.TS.IsZero():
		return fmt.Errorf("missing ts")
	}
	return nil
}

type tradeEventJSON struct {
	TS      json.RawMessage `json:"ts"`
	Side    TradeSide       `json:"side"`
	Symbol  string          `json:"symbol"`
	FillPx  float64         `json:"fill_px"`
	Qty     float64         `json:"qty"`
	OrderID string          `json:"order_id"`
	Status  string          `json:"status"`
}

// UnmarshalJSON accepts ts as an ISO string or a unix epoch (s or ms).
func (e *TradeEvent) UnmarshalJSON(b []byte) error {
	var raw tradeEventJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = TradeEvent{
		Side:    raw.Side,
		Symbol:  raw.Symbol,
		FillPx:  raw.FillPx,
		Qty:     raw.Qty,
		OrderID: raw.OrderID,
		Status:  raw.Status,
	}
	if len(raw.TS) == 0 || string(raw.TS) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw.TS, &s); err == nil {
		t, ok := util.ParseTime(s)
		if !ok {
			return fmt.Errorf("invalid ts %q", s)
		}
		e.TS = t
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw.TS, &f); err != nil {
		return fmt.Errorf("invalid ts %s", raw.TS)
	}
	e.TS = util.FromEpoch(f)
	return nil
}

type PositionSide string

const (
	Flat  PositionSide = "FLAT"
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// Position is derived from the ledger, never stored as ground truth.
type Position struct {
	Symbol        string       `json:"symbol"`
	Side          PositionSide `json:"side"`
	Qty           float64      `json:"qty"`
	AvgEntry      float64      `json:"avg_entry"`
	Mark          float64      `json:"mark"`
	UnrealizedPnL float64      `json:"upnl"`
}

func FlatPosition(symbol string) Position {
	return Position{Symbol: symbol, Side: Flat}
}

type Roundtrip struct {
	EntryTS   time.Time    `json:"entry_ts"`
	ExitTS    time.Time    `json:"exit_ts"`
	Side      PositionSide `json:"side"`
	Symbol    string       `json:"symbol"`
	EntryPx   float64      `json:"entry_px"`
	ExitPx    float64      `json:"exit_px"`
	Qty       float64      `json:"qty"`
	PnLQuote  float64      `json:"pnl_quote"`
	HoldHours float64      `json:"hold_hours"`
	EntryID   string       `json:"entry_order_id,omitempty"`
	ExitID    string       `json:"exit_order_id,omitempty"`
}

// Warning is a fail-soft problem recorded during a scan or replay.
type Warning struct {
	Kind    string `json:"kind"`
	Line    int    `json:"line,omitempty"`
	OrderID string `json:"order_id,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
	Message string `json:"message"`
}

const (
	WarnCorruptLine  = "ledger_corruption"
	WarnInconsistent = "reconciliation_inconsistency"
	WarnShortfall    = "close_shortfall"
	WarnClockSkew    = "clock_skew"
	WarnCrossCheck   = "cross_check_mismatch"
)
