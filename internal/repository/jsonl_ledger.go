package repository

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
	applogger "SignalDesk/pkg/logger"
)

const maxLedgerLine = 1 << 20

// JSONLLedger is a single-file append-only trade journal. Each event is one
// JSON object per line, written with one write call and fsynced before
// Append returns. The order_id index is loaded once at open.
type JSONLLedger struct {
	path string

	mu   sync.Mutex
	seen map[string]struct{}
	l    *applogger.Logger
}

func OpenJSONLLedger(path string) (*JSONLLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger dir: %w", err)
	}
	lg := &JSONLLedger{path: path, seen: make(map[string]struct{})}
	events, _, err := lg.scan(context.Background())
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		lg.seen[ev.OrderID] = struct{}{}
	}
	return lg, nil
}

func (lg *JSONLLedger) SetLogger(l *applogger.Logger) { lg.l = l }

func (lg *JSONLLedger) Path() string { return lg.path }

// Append journals ev. It returns false without writing when order_id is
// already in the ledger.
func (lg *JSONLLedger) Append(ctx context.Context, ev models.TradeEvent) (bool, error) {
	if err := ev.Check(); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	lg.mu.Lock()
	defer lg.mu.Unlock()

	if _, dup := lg.seen[ev.OrderID]; dup {
		return false, nil
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("encode trade: %w", err)
	}

	f, err := os.OpenFile(lg.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return false, fmt.Errorf("open ledger: %w", err)
	}
	torn, err := endsTorn(f)
	if err != nil {
		_ = f.Close()
		return false, fmt.Errorf("inspect ledger tail: %w", err)
	}
	line := make([]byte, 0, len(body)+2)
	if torn {
		// isolate a partial record left by another writer
		line = append(line, '\n')
	}
	line = append(line, body...)
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("append ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("sync ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("close ledger: %w", err)
	}

	lg.seen[ev.OrderID] = struct{}{}
	return true, nil
}

// Scan returns every well-formed event in file order. Malformed or invalid
// lines become warnings; a duplicate order_id keeps its first occurrence.
func (lg *JSONLLedger) Scan(ctx context.Context) ([]models.TradeEvent, []models.Warning, error) {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	return lg.scan(ctx)
}

func (lg *JSONLLedger) scan(ctx context.Context) ([]models.TradeEvent, []models.Warning, error) {
	f, err := os.Open(lg.path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	var (
		events   []models.TradeEvent
		warnings []models.Warning
		seen     = make(map[string]struct{})
		lineNo   int
	)
	r := bufio.NewReaderSize(f, 64*1024)
	for {
		raw, oversized, err := readLedgerLine(r)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("read ledger: %w", err)
		}
		if len(raw) == 0 && !oversized && errors.Is(err, io.EOF) {
			break
		}
		lineNo++
		if lineNo%1024 == 0 {
			if cerr := ctx.Err(); cerr != nil {
				return nil, nil, cerr
			}
		}
		if ev, ok := lg.decodeLine(lineNo, raw, oversized, seen, &warnings); ok {
			seen[ev.OrderID] = struct{}{}
			events = append(events, ev)
		}
		if errors.Is(err, io.EOF) {
			break
		}
	}
	return events, warnings, nil
}

func (lg *JSONLLedger) decodeLine(lineNo int, raw []byte, oversized bool, seen map[string]struct{}, warnings *[]models.Warning) (models.TradeEvent, bool) {
	var ev models.TradeEvent
	if oversized {
		*warnings = append(*warnings, lg.corrupt(lineNo, fmt.Errorf("line exceeds %d bytes", maxLedgerLine)))
		return ev, false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ev, false
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		*warnings = append(*warnings, lg.corrupt(lineNo, err))
		return ev, false
	}
	if err := ev.Check(); err != nil {
		*warnings = append(*warnings, lg.corrupt(lineNo, err))
		return ev, false
	}
	if _, dup := seen[ev.OrderID]; dup {
		*warnings = append(*warnings, lg.corrupt(lineNo, fmt.Errorf("duplicate order_id %s", ev.OrderID)))
		return ev, false
	}
	return ev, true
}

// readLedgerLine returns the next line without its terminator. A line longer
// than maxLedgerLine is consumed through its newline and reported as
// oversized with no bytes. io.EOF is returned with the final unterminated
// line, if any.
func readLedgerLine(r *bufio.Reader) ([]byte, bool, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(buf)+len(chunk) > maxLedgerLine+1 {
			if err == nil {
				return nil, true, nil
			}
			if errors.Is(err, bufio.ErrBufferFull) {
				return nil, true, discardLine(r)
			}
			return nil, true, err
		}
		buf = append(buf, chunk...)
		switch {
		case err == nil:
			return buf[:len(buf)-1], false, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return buf, false, err
		}
	}
}

func discardLine(r *bufio.Reader) error {
	for {
		_, err := r.ReadSlice('\n')
		if err == nil {
			return nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

// endsTorn reports whether a non-empty file lacks a trailing newline.
func endsTorn(f *os.File) (bool, error) {
	fi, err := f.Stat()
	if err != nil {
		return false, err
	}
	if fi.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, fi.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}

func (lg *JSONLLedger) corrupt(line int, err error) models.Warning {
	ce := &models.LedgerCorruptionError{Line: line, Err: err}
	if lg.l != nil {
		lg.l.Warn("skipping ledger line",
			applogger.String("path", lg.path),
			applogger.Int("line", line),
			applogger.Error(err),
		)
	}
	return ce.Warning()
}

func (lg *JSONLLedger) Stat() (domrepo.LedgerStat, error) {
	fi, err := os.Stat(lg.path)
	if os.IsNotExist(err) {
		return domrepo.LedgerStat{}, nil
	}
	if err != nil {
		return domrepo.LedgerStat{}, err
	}
	return domrepo.LedgerStat{Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

var _ domrepo.TradeLedger = (*JSONLLedger)(nil)
