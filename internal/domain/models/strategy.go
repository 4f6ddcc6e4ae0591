package models

import "time"

// StrategySnapshot is the latest position/signal state of one strategy.
// It is overwritten atomically after every ledger or log append.
type StrategySnapshot struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Status        string      `json:"status"`
	LastEvaluated *time.Time  `json:"lastEvaluated,omitempty"`
	LatestSignal  *Signal     `json:"latestSignal,omitempty"`
	Position      Position    `json:"position"`
	Positions     []Position  `json:"positions,omitempty"`
	LastTrade     *TradeEvent `json:"lastTrade,omitempty"`
	Warnings      int         `json:"warnings"`
	LastSeen      *time.Time  `json:"lastSeen,omitempty"`
	Health        string      `json:"health,omitempty"`
}

const (
	StrategyActive = "Active"
	StrategyError  = "Error"
	StrategyStale  = "Stale"
)

// Heartbeat health reported by the bot.
const (
	HealthOK    = "ok"
	HealthWarn  = "warn"
	HealthError = "error"
)

// Heartbeat marks the bot alive at TS.
type Heartbeat struct {
	TS     time.Time              `json:"ts"`
	Health string                 `json:"health"`
	Meta   map[string]interface{} `json:"meta,omitempty"`
}

// Performance rolls up closed roundtrips whose exit falls inside Window.
type Performance struct {
	Window        string   `json:"window"`
	RealizedPnL   float64  `json:"realizedPnL"`
	UnrealizedPnL float64  `json:"unrealizedPnL"`
	Trades        int      `json:"trades"`
	Roundtrips    int      `json:"roundtrips"`
	Wins          int      `json:"wins"`
	HitRate       *float64 `json:"hitRate"`
	AvgHoldHours  float64  `json:"avgHoldHours"`
}

// EvalLogEntry is one evaluation/decision event posted by the bot.
type EvalLogEntry struct {
	TS     time.Time `json:"ts"`
	Event  string    `json:"event"`
	Level  string    `json:"level"`
	Market string    `json:"market,omitempty"`
	Note   string    `json:"note,omitempty"`
	Score  *int      `json:"score,omitempty"`
	Label  Label     `json:"label,omitempty"`
	Price  float64   `json:"price,omitempty"`
	Trend  *Trend    `json:"trend,omitempty"`
	Zones  *Zones    `json:"zones,omitempty"`
}

const (
	EventEvaluation  = "evaluation"
	EventSignalLong  = "signal_long"
	EventSignalShort = "signal_short"
)

type KPIs struct {
	Window                    string  `json:"window"`
	AlertsIssued              int     `json:"alertsIssued"`
	AvgScore                  int     `json:"avgScore"`
	RiskSuppressedCount       int     `json:"riskSuppressedCount"`
	MedianTimeBetweenEvalsMin float64 `json:"medianTimeBetweenEvalsMin"`
}

type Summary struct {
	UpdatedAt       *time.Time   `json:"updatedAt"`
	Regime          MarketRegime `json:"regime"`
	Label           Label        `json:"label"`
	Status          CacheStatus  `json:"status"`
	Errors          int          `json:"errors"`
	MostRecentTrade *TradeEvent  `json:"mostRecentTrade"`
}
