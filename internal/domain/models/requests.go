package models

// Requests for the read API. Tags drive creasty/defaults and validator.

type StrategyRequest struct {
	ID string `param:"id" json:"id" validate:"required,max=64"`
}

type PositionRequest struct {
	ID     string  `param:"id" json:"id" validate:"required,max=64"`
	Symbol string  `query:"symbol" json:"symbol"`
	Mark   float64 `query:"mark" json:"mark" validate:"gte=0"`
}

type ListRequest struct {
	ID    string `param:"id" json:"id" validate:"required,max=64"`
	Limit int    `query:"limit" json:"limit" default:"20" validate:"gte=1,lte=1000"`
}

type RoundtripsRequest struct {
	ID    string `param:"id" json:"id" validate:"required,max=64"`
	Limit int    `query:"limit" json:"limit" default:"10" validate:"gte=1,lte=1000"`
}

type LogsRequest struct {
	ID    string `param:"id" json:"id" validate:"required,max=64"`
	Limit int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=1000"`
}

type KPIRequest struct {
	ID     string `param:"id" json:"id" validate:"required,max=64"`
	Window string `query:"window" json:"window" default:"7d"`
}

type PerformanceRequest struct {
	ID     string `param:"id" json:"id" validate:"required,max=64"`
	Window string `query:"window" json:"window" default:"30d"`
}

// HeartbeatRequest is the bot's liveness ping. ts may be omitted.
type HeartbeatRequest struct {
	ID     string                 `param:"id" json:"-" validate:"required,max=64"`
	TS     string                 `json:"ts"`
	Status string                 `json:"status" default:"ok" validate:"oneof=ok warn error"`
	Meta   map[string]interface{} `json:"meta"`
}

// TradeRequest is a fill posted by the execution bot. ts may be omitted.
type TradeRequest struct {
	ID string `param:"id" json:"-" validate:"required,max=64"`
	TradeEvent
}

// LogRequest is an evaluation event posted by the bot. score is clamped
// to [0,100] on append, so it is accepted as any number here.
type LogRequest struct {
	ID     string   `param:"id" json:"-" validate:"required,max=64"`
	TS     string   `json:"ts"`
	Event  string   `json:"event" validate:"required,max=64"`
	Level  string   `json:"level" default:"info" validate:"oneof=debug info warn error"`
	Market string   `json:"market"`
	Note   string   `json:"note" validate:"max=2000"`
	Score  *float64 `json:"score"`
	Label  Label    `json:"label"`
	Price  float64  `json:"price" validate:"gte=0"`
	Trend  *Trend   `json:"trend"`
	Zones  *Zones   `json:"zones"`
}
