package repository

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
	applogger "SignalDesk/pkg/logger"
)

// FileEvalLog appends evaluation entries to {dataDir}/logs/{strategy}.jsonl.
type FileEvalLog struct {
	dir string
	mu  sync.Mutex
	l   *applogger.Logger
}

func NewFileEvalLog(dataDir string) *FileEvalLog {
	return &FileEvalLog{dir: filepath.Join(dataDir, "logs")}
}

func (e *FileEvalLog) SetLogger(l *applogger.Logger) { e.l = l }

func (e *FileEvalLog) path(strategy string) string {
	return filepath.Join(e.dir, strategy+".jsonl")
}

func (e *FileEvalLog) Append(ctx context.Context, strategy string, entry models.EvalLogEntry) error {
	if !ValidStrategyID(strategy) {
		return fmt.Errorf("invalid strategy id %q", strategy)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode log entry: %w", err)
	}
	line = append(line, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("log dir: %w", err)
	}
	f, err := os.OpenFile(e.path(strategy), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append log: %w", err)
	}
	return f.Close()
}

// Tail returns the last n entries in file order; n <= 0 returns all.
// Unreadable lines are skipped.
func (e *FileEvalLog) Tail(ctx context.Context, strategy string, n int) ([]models.EvalLogEntry, error) {
	if !ValidStrategyID(strategy) {
		return nil, fmt.Errorf("invalid strategy id %q", strategy)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := os.Open(e.path(strategy))
	if os.IsNotExist(err) {
		return []models.EvalLogEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	out := make([]models.EvalLogEntry, 0)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLedgerLine)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var entry models.EvalLogEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			if e.l != nil {
				e.l.Warn("skipping eval log line", applogger.String("strategy", strategy), applogger.Int("line", lineNo), applogger.Error(err))
			}
			continue
		}
		out = append(out, entry)
		if n > 0 && len(out) > 2*n {
			out = append(out[:0], out[len(out)-n:]...)
		}
	}
	if err := sc.Err(); err != nil && e.l != nil {
		e.l.Warn("eval log read stopped", applogger.String("strategy", strategy), applogger.Error(err))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

var _ domrepo.EvalLog = (*FileEvalLog)(nil)
