package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrSignalsPaused = errors.New("signals paused")
)

// UpstreamFetchError covers network failures, timeouts, 429 and 5xx
// from a market-data provider. All of them are transient.
type UpstreamFetchError struct {
	Source     string
	Asset      string
	StatusCode int
	Err        error
}

func (e *UpstreamFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s fetch %s: status %d: %v", e.Source, e.Asset, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s fetch %s: %v", e.Source, e.Asset, e.Err)
}

func (e *UpstreamFetchError) Unwrap() error { return e.Err }

// Temporary reports whether a retry could succeed.
func (e *UpstreamFetchError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// Public is safe to show at the read boundary.
func (e *UpstreamFetchError) Public() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: upstream unavailable (status %d)", e.Asset, e.StatusCode)
	}
	return fmt.Sprintf("%s: upstream unavailable", e.Asset)
}

type DataInsufficientError struct {
	Asset string
	Have  int
	Need  int
}

func (e *DataInsufficientError) Error() string {
	return fmt.Sprintf("%s: insufficient data, have %d points, need %d", e.Asset, e.Have, e.Need)
}

func (e *DataInsufficientError) Public() string { return e.Error() }

type LedgerCorruptionError struct {
	Line int
	Err  error
}

func (e *LedgerCorruptionError) Error() string {
	return fmt.Sprintf("ledger line %d: %v", e.Line, e.Err)
}

func (e *LedgerCorruptionError) Unwrap() error { return e.Err }

func (e *LedgerCorruptionError) Warning() Warning {
	return Warning{Kind: WarnCorruptLine, Line: e.Line, Message: e.Err.Error()}
}

// ReconciliationInconsistencyError is an event that does not fit the
// state it was replayed into.
type ReconciliationInconsistencyError struct {
	Kind    string
	OrderID string
	Symbol  string
	State   PositionSide
	Event   TradeSide
	Detail  string
}

func (e *ReconciliationInconsistencyError) Error() string {
	msg := fmt.Sprintf("%s %s on %s while %s", e.Kind, e.Event, e.Symbol, e.State)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ReconciliationInconsistencyError) Warning() Warning {
	return Warning{Kind: e.Kind, OrderID: e.OrderID, Symbol: e.Symbol, Message: e.Error()}
}

// PublicMessage renders err for the read boundary without leaking internals.
func PublicMessage(err error) string {
	var up *UpstreamFetchError
	if errors.As(err, &up) {
		return up.Public()
	}
	var di *DataInsufficientError
	if errors.As(err, &di) {
		return di.Public()
	}
	return "internal error"
}
