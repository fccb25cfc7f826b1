package budget

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/longhaul-ai/longhaul/pkg/models"
)

// Ledger appends token usage entries to a per-day JSONL file and keeps
// running aggregates for budget checks. Entries are never rewritten; daily
// rollover happens by filename.
type Ledger struct {
	mu      sync.Mutex
	baseDir string
	now     func() time.Time

	// aggregates for the day currently open
	day          string
	dayTokens    int64
	dayCost      float64
	sessionSpend map[string]*sessionAggregate
}

type sessionAggregate struct {
	tokens int64
	cost   float64
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithClock overrides the ledger's time source.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// NewLedger opens (or creates) the ledger directory and loads today's
// aggregates from disk so restarts do not reset daily spend.
func NewLedger(baseDir string, opts ...LedgerOption) (*Ledger, error) {
	l := &Ledger{
		baseDir:      baseDir,
		now:          time.Now,
		sessionSpend: make(map[string]*sessionAggregate),
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	l.day = l.now().UTC().Format("2006-01-02")
	if err := l.loadDay(l.day); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) filePath(day string) string {
	return filepath.Join(l.baseDir, "usage-"+day+".jsonl")
}

// loadDay replays a day's JSONL file into the in-memory aggregates.
// Malformed lines are skipped; an append interrupted by a crash must not
// poison the whole ledger.
func (l *Ledger) loadDay(day string) error {
	f, err := os.Open(l.filePath(day))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry models.TokenUsage
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		l.apply(entry)
	}
	return scanner.Err()
}

func (l *Ledger) apply(entry models.TokenUsage) {
	tokens := entry.InputTokens + entry.OutputTokens
	l.dayTokens += tokens
	l.dayCost += entry.CostUsd
	if entry.SessionKey != "" {
		agg := l.sessionSpend[entry.SessionKey]
		if agg == nil {
			agg = &sessionAggregate{}
			l.sessionSpend[entry.SessionKey] = agg
		}
		agg.tokens += tokens
		agg.cost += entry.CostUsd
	}
}

// rolloverLocked resets daily aggregates when the UTC date changes.
// Session aggregates persist across days; sessions are long-lived.
func (l *Ledger) rolloverLocked() {
	day := l.now().UTC().Format("2006-01-02")
	if day == l.day {
		return
	}
	l.day = day
	l.dayTokens = 0
	l.dayCost = 0
}

// Record appends one usage entry and updates aggregates.
func (l *Ledger) Record(entry models.TokenUsage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal usage entry: %w", err)
	}
	f, err := os.OpenFile(l.filePath(l.day), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger for append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append usage entry: %w", err)
	}

	l.apply(entry)
	return nil
}

// DayTotals returns the running totals for the current UTC day.
func (l *Ledger) DayTotals() (tokens int64, costUsd float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	return l.dayTokens, l.dayCost
}

// SessionTotals returns the running totals for one session.
func (l *Ledger) SessionTotals(sessionKey string) (tokens int64, costUsd float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	agg := l.sessionSpend[sessionKey]
	if agg == nil {
		return 0, 0
	}
	return agg.tokens, agg.cost
}
