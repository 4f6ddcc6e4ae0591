package usecase

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
	applogger "SignalDesk/pkg/logger"
	"SignalDesk/pkg/util"
)

const (
	defaultKPIWindow  = "7d"
	defaultPerfWindow = "30d"
)

// StrategyService owns the per-strategy read model: the snapshot file, the
// evaluation log and the ledger view behind them.
type StrategyService struct {
	ledgers   *LedgerView
	snapshots domrepo.SnapshotStore
	evals     domrepo.EvalLog
	signals   *SignalService
	resolve   func(string) string
	defaultID string
	names     map[string]string
	now       func() time.Time

	// a heartbeat older than this marks the strategy stale
	heartbeatTimeout time.Duration

	// serializes snapshot read-modify-write
	mu sync.Mutex
	l  *applogger.Logger
}

type StrategyOption func(*StrategyService)

// WithStrategyNames maps canonical ids to display names.
func WithStrategyNames(names map[string]string) StrategyOption {
	return func(s *StrategyService) {
		for k, v := range names {
			s.names[k] = v
		}
	}
}

func WithHeartbeatTimeout(d time.Duration) StrategyOption {
	return func(s *StrategyService) { s.heartbeatTimeout = d }
}

func WithStrategyClock(now func() time.Time) StrategyOption {
	return func(s *StrategyService) { s.now = now }
}

func NewStrategyService(
	ledgers *LedgerView,
	snapshots domrepo.SnapshotStore,
	evals domrepo.EvalLog,
	signals *SignalService,
	resolve func(string) string,
	defaultID string,
	opts ...StrategyOption,
) *StrategyService {
	if resolve == nil {
		resolve = func(s string) string { return s }
	}
	s := &StrategyService{
		ledgers:   ledgers,
		snapshots: snapshots,
		evals:     evals,
		signals:   signals,
		resolve:   resolve,
		defaultID: defaultID,
		names:     map[string]string{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *StrategyService) SetLogger(l *applogger.Logger) { s.l = l }

// Canonical maps an alias or empty id to the canonical strategy id.
func (s *StrategyService) Canonical(id string) string {
	if id == "" {
		return s.defaultID
	}
	return s.resolve(id)
}

func (s *StrategyService) DefaultID() string { return s.defaultID }

// Card is the at-a-glance strategy view. The live ledger replay overrides
// whatever position the snapshot last recorded.
func (s *StrategyService) Card(ctx context.Context, id string) (models.StrategySnapshot, error) {
	id = s.Canonical(id)
	snap, err := s.loadSnapshot(ctx, id)
	if err != nil {
		return models.StrategySnapshot{}, err
	}
	state, err := s.ledgers.State(ctx, id)
	if err != nil {
		return models.StrategySnapshot{}, err
	}
	pos, err := s.ledgers.Position(ctx, id, "", 0)
	if err != nil {
		return models.StrategySnapshot{}, err
	}
	positions, err := s.ledgers.Positions(ctx, id)
	if err != nil {
		return models.StrategySnapshot{}, err
	}
	snap.Position = pos
	snap.Positions = positions
	snap.Warnings = len(state.Warnings)
	if last := state.LastTrade(); last != nil {
		snap.LastTrade = last
	}
	snap.Status = s.liveness(snap)
	return snap, nil
}

// liveness derives the card status from the last heartbeat.
func (s *StrategyService) liveness(snap models.StrategySnapshot) string {
	if snap.Health == models.HealthError {
		return models.StrategyError
	}
	if snap.LastSeen != nil && s.heartbeatTimeout > 0 && s.now().Sub(*snap.LastSeen) > s.heartbeatTimeout {
		return models.StrategyStale
	}
	return snap.Status
}

// List returns a card for the default strategy and every named one,
// default first.
func (s *StrategyService) List(ctx context.Context) ([]models.StrategySnapshot, error) {
	ids := make([]string, 0, len(s.names)+1)
	for id := range s.names {
		if id != s.defaultID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if s.defaultID != "" {
		ids = append([]string{s.defaultID}, ids...)
	}

	out := make([]models.StrategySnapshot, 0, len(ids))
	for _, id := range ids {
		card, err := s.Card(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, card)
	}
	return out, nil
}

// Performance rolls up roundtrips closed inside window ("30d", "7d") and
// prices open positions from the mark source. An unparseable window falls
// back to thirty days.
func (s *StrategyService) Performance(ctx context.Context, id, window string) (models.Performance, error) {
	d, err := util.ParseWindow(window)
	if err != nil || window == "" {
		window = defaultPerfWindow
		d = 30 * 24 * time.Hour
	}
	id = s.Canonical(id)
	state, err := s.ledgers.State(ctx, id)
	if err != nil {
		return models.Performance{}, err
	}
	positions, err := s.ledgers.Positions(ctx, id)
	if err != nil {
		return models.Performance{}, err
	}
	return ComputePerformance(state.Events, state.Roundtrips, positions, window, s.now().Add(-d)), nil
}

// ComputePerformance sums realized PnL over roundtrips exiting at or after
// cutoff. HitRate stays nil until at least one roundtrip closed.
func ComputePerformance(events []models.TradeEvent, rts []models.Roundtrip, open []models.Position, window string, cutoff time.Time) models.Performance {
	p := models.Performance{Window: window}
	for _, ev := range events {
		if ev.IsFill() && !ev.TS.Before(cutoff) {
			p.Trades++
		}
	}

	realized, hold := decimal.Zero, decimal.Zero
	for _, rt := range rts {
		if rt.ExitTS.Before(cutoff) {
			continue
		}
		p.Roundtrips++
		if rt.PnLQuote > 0 {
			p.Wins++
		}
		realized = realized.Add(decimal.NewFromFloat(rt.PnLQuote))
		hold = hold.Add(decimal.NewFromFloat(rt.HoldHours))
	}
	p.RealizedPnL = realized.Round(8).InexactFloat64()
	if p.Roundtrips > 0 {
		rate := math.Round(float64(p.Wins)/float64(p.Roundtrips)*10000) / 10000
		p.HitRate = &rate
		p.AvgHoldHours = hold.Div(decimal.NewFromInt(int64(p.Roundtrips))).Round(2).InexactFloat64()
	}

	unrealized := decimal.Zero
	for _, pos := range open {
		unrealized = unrealized.Add(decimal.NewFromFloat(pos.UnrealizedPnL))
	}
	p.UnrealizedPnL = unrealized.Round(8).InexactFloat64()
	return p
}

// Heartbeat records the bot as alive. A missing ts means now.
func (s *StrategyService) Heartbeat(ctx context.Context, id string, req models.HeartbeatRequest) (models.Heartbeat, error) {
	id = s.Canonical(id)
	hb := models.Heartbeat{
		TS:     util.ParseTimeDefault(req.TS, s.now().UTC()),
		Health: req.Status,
		Meta:   req.Meta,
	}
	if hb.Health == "" {
		hb.Health = models.HealthOK
	}
	err := s.updateSnapshot(ctx, id, func(snap *models.StrategySnapshot) error {
		if snap.LastSeen != nil && hb.TS.Before(*snap.LastSeen) {
			return nil
		}
		ts := hb.TS
		snap.LastSeen = &ts
		snap.Health = hb.Health
		return nil
	})
	if err != nil {
		return models.Heartbeat{}, err
	}
	if hb.Health != models.HealthOK && s.l != nil {
		s.l.Warn("strategy heartbeat unhealthy",
			applogger.String("strategy", id),
			applogger.String("health", hb.Health),
			applogger.Any("meta", hb.Meta),
		)
	}
	return hb, nil
}

func (s *StrategyService) Position(ctx context.Context, id, symbol string, mark float64) (models.Position, error) {
	return s.ledgers.Position(ctx, s.Canonical(id), symbol, mark)
}

func (s *StrategyService) Trades(ctx context.Context, id string, limit int) ([]models.TradeEvent, error) {
	return s.ledgers.Trades(ctx, s.Canonical(id), limit)
}

func (s *StrategyService) Roundtrips(ctx context.Context, id string, limit int) ([]models.Roundtrip, error) {
	return s.ledgers.Roundtrips(ctx, s.Canonical(id), limit)
}

// AppendTrade journals a fill and rewrites the snapshot. A repeated
// order_id is acknowledged without touching anything.
func (s *StrategyService) AppendTrade(ctx context.Context, id string, ev models.TradeEvent) (bool, error) {
	id = s.Canonical(id)
	if ev.TS.IsZero() {
		ev.TS = s.now().UTC()
	}
	ok, err := s.ledgers.AppendTrade(ctx, id, ev)
	if err != nil || !ok {
		return ok, err
	}
	err = s.updateSnapshot(ctx, id, func(snap *models.StrategySnapshot) error {
		pos, err := s.ledgers.Position(ctx, id, "", 0)
		if err != nil {
			return err
		}
		state, err := s.ledgers.State(ctx, id)
		if err != nil {
			return err
		}
		snap.Position = pos
		snap.LastTrade = &ev
		snap.Warnings = len(state.Warnings)
		return nil
	})
	return true, err
}

// AppendLog journals an evaluation event and advances last_evaluated.
// Evaluation events that carry a score also become the latest signal.
func (s *StrategyService) AppendLog(ctx context.Context, id string, req models.LogRequest) (models.EvalLogEntry, error) {
	id = s.Canonical(id)
	entry := s.toEntry(req)
	if err := s.evals.Append(ctx, id, entry); err != nil {
		return models.EvalLogEntry{}, err
	}
	err := s.updateSnapshot(ctx, id, func(snap *models.StrategySnapshot) error {
		ts := entry.TS
		snap.LastEvaluated = &ts
		if entry.Event == models.EventEvaluation && entry.Score != nil {
			snap.LatestSignal = signalFromEntry(entry)
		}
		return nil
	})
	return entry, err
}

func (s *StrategyService) toEntry(req models.LogRequest) models.EvalLogEntry {
	entry := models.EvalLogEntry{
		Event:  req.Event,
		Level:  req.Level,
		Market: req.Market,
		Note:   req.Note,
		Label:  req.Label,
		Price:  req.Price,
		Trend:  req.Trend,
		Zones:  req.Zones,
	}
	if entry.Level == "" {
		entry.Level = "info"
	}
	entry.TS = util.ParseTimeDefault(req.TS, s.now().UTC())
	if req.Score != nil {
		sc := clampScore(*req.Score)
		entry.Score = &sc
	}
	return entry
}

func clampScore(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Max(0, math.Min(100, math.Trunc(v))))
}

func signalFromEntry(e models.EvalLogEntry) *models.Signal {
	sig := &models.Signal{
		Label:  e.Label,
		Score:  *e.Score,
		Market: e.Market,
		Price:  math.Round(e.Price*100) / 100,
		Trend:  models.Trend{SMA20: models.DirFlat.String(), SMA50: models.DirFlat.String(), RSI14: 50},
		TS:     e.TS,
	}
	if sig.Label == "" {
		sig.Label = models.LabelObservation
	}
	if e.Trend != nil {
		sig.Trend = *e.Trend
	}
	if e.Zones != nil {
		sig.Zones = *e.Zones
	}
	return sig
}

// Logs returns the most recent evaluation events, oldest first.
func (s *StrategyService) Logs(ctx context.Context, id string, limit int) ([]models.EvalLogEntry, error) {
	entries, err := s.evals.Tail(ctx, s.Canonical(id), limit)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Level == "" {
			entries[i].Level = "info"
		}
	}
	return entries, nil
}

// KPIs aggregates the evaluation log over window ("7d", "24h").
// An unparseable window falls back to seven days.
func (s *StrategyService) KPIs(ctx context.Context, id, window string) (models.KPIs, error) {
	d, err := util.ParseWindow(window)
	if err != nil || window == "" {
		window = defaultKPIWindow
		d = 7 * 24 * time.Hour
	}
	entries, err := s.evals.Tail(ctx, s.Canonical(id), 0)
	if err != nil {
		return models.KPIs{}, err
	}
	return ComputeKPIs(entries, window, s.now().Add(-d)), nil
}

// ComputeKPIs counts alerts, averages scores and takes the median gap
// between evaluations for entries at or after cutoff.
func ComputeKPIs(entries []models.EvalLogEntry, window string, cutoff time.Time) models.KPIs {
	k := models.KPIs{Window: window}
	var (
		scoreSum, scoreN int
		evals            []time.Time
	)
	for _, e := range entries {
		if e.TS.Before(cutoff) {
			continue
		}
		switch e.Event {
		case models.EventSignalLong, models.EventSignalShort:
			k.AlertsIssued++
		case models.EventEvaluation:
			evals = append(evals, e.TS)
		}
		if e.Score != nil {
			scoreSum += *e.Score
			scoreN++
		}
		if strings.Contains(strings.ToLower(e.Note), "blocked") {
			k.RiskSuppressedCount++
		}
	}
	if scoreN > 0 {
		k.AvgScore = scoreSum / scoreN
	}

	sort.Slice(evals, func(i, j int) bool { return evals[i].Before(evals[j]) })
	if len(evals) > 1 {
		gaps := make([]float64, 0, len(evals)-1)
		for i := 1; i < len(evals); i++ {
			gaps = append(gaps, evals[i].Sub(evals[i-1]).Minutes())
		}
		sort.Float64s(gaps)
		k.MedianTimeBetweenEvalsMin = math.Round(gaps[len(gaps)/2]*10) / 10
	}
	return k
}

// Summary is the home-page rollup of the default strategy and the
// signal cache.
func (s *StrategyService) Summary(ctx context.Context) (models.Summary, error) {
	payload := s.signals.Signals(ctx)
	out := models.Summary{
		Regime: payload.Regime,
		Label:  models.LabelObservation,
		Status: payload.Status,
		Errors: len(payload.Errors),
	}
	if out.Regime == "" {
		out.Regime = models.Neutral
	}
	if !payload.LastUpdated.IsZero() {
		ts := payload.LastUpdated
		out.UpdatedAt = &ts
	}

	card, err := s.Card(ctx, s.defaultID)
	if err != nil {
		return models.Summary{}, err
	}
	if card.LastEvaluated != nil {
		out.UpdatedAt = card.LastEvaluated
	}
	if card.LatestSignal != nil {
		out.Label = card.LatestSignal.Label
	}
	if card.Status == models.StrategyError {
		out.Status = models.StatusDegraded
		out.Errors++
	}
	out.MostRecentTrade = card.LastTrade
	return out, nil
}

func (s *StrategyService) loadSnapshot(ctx context.Context, id string) (models.StrategySnapshot, error) {
	snap, err := s.snapshots.Load(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		snap = models.StrategySnapshot{ID: id, Status: models.StrategyActive}
	} else if err != nil {
		if s.l != nil {
			s.l.Warn("strategy snapshot unreadable, starting fresh", applogger.String("strategy", id), applogger.Error(err))
		}
		snap = models.StrategySnapshot{ID: id, Status: models.StrategyActive}
	}
	snap.ID = id
	if name, ok := s.names[id]; ok {
		snap.Name = name
	}
	if snap.Name == "" {
		snap.Name = id
	}
	if snap.Status == "" {
		snap.Status = models.StrategyActive
	}
	return snap, nil
}

func (s *StrategyService) updateSnapshot(ctx context.Context, id string, mutate func(*models.StrategySnapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.loadSnapshot(ctx, id)
	if err != nil {
		return err
	}
	if err := mutate(&snap); err != nil {
		return err
	}
	if err := s.snapshots.Save(ctx, snap); err != nil {
		if s.l != nil {
			s.l.Error("strategy snapshot write failed", applogger.String("strategy", id), applogger.Error(err))
		}
		return err
	}
	return nil
}
