// Package ledger keeps the append-only log of administrative and monetary actions.
package ledger

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"referral-ledger/internal/apperr"
	"referral-ledger/internal/lock"
	"referral-ledger/internal/models"
	"referral-ledger/internal/monitoring"
	"referral-ledger/internal/storage"
)

const lockKey = "ledger"

type Store interface {
	LoadEntries(ctx context.Context) ([]models.Entry, error)
	SaveEntries(ctx context.Context, entries []models.Entry) error
}

type Ledger struct {
	store  Store
	locker lock.Locker
	log    *zap.Logger
	now    func() time.Time
	reload bool

	mu      sync.RWMutex
	loaded  bool
	entries []models.Entry
}

type Options struct {
	Locker lock.Locker
	Reload bool
	Logger *zap.Logger
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

func New(store Store, opts Options) *Ledger {
	if opts.Locker == nil {
		opts.Locker = lock.NewLocalLocker()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ledger{
		store:  store,
		locker: opts.Locker,
		log:    opts.Logger,
		now:    opts.Now,
		reload: opts.Reload,
	}
}

func (l *Ledger) Load(ctx context.Context) ([]models.Entry, error) {
	release, err := l.locker.Acquire(ctx, lockKey)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.loadLocked(ctx)
}

// Append validates the action type, stamps the entry with the current UTC second and
// persists the whole log. If persisting fails the entry is not kept.
func (l *Ledger) Append(ctx context.Context, e models.Entry) (models.Entry, error) {
	if !e.Type.Valid() {
		return models.Entry{}, apperr.Validation("type", "unknown action type %q", e.Type)
	}
	if strings.TrimSpace(e.Actor) == "" {
		return models.Entry{}, apperr.Validation("actor", "must not be empty")
	}
	if e.Target == "" {
		e.Target = models.NotApplicable
	}

	release, err := l.locker.Acquire(ctx, lockKey)
	if err != nil {
		return models.Entry{}, err
	}
	defer release()

	current, err := l.currentLocked(ctx)
	if err != nil {
		return models.Entry{}, err
	}

	e.Timestamp = l.now().UTC().Truncate(time.Second)
	e.Seq = uint(len(current) + 1)
	next := append(current, e)

	if err := l.store.SaveEntries(ctx, next); err != nil {
		return models.Entry{}, fmt.Errorf("failed to persist ledger: %w", err)
	}

	l.mu.Lock()
	l.entries = next
	l.loaded = true
	l.mu.Unlock()

	monitoring.LedgerEntriesTotal.WithLabelValues(string(e.Type)).Inc()
	l.log.Info("ledger entry appended",
		zap.String("type", string(e.Type)),
		zap.String("actor", e.Actor),
		zap.String("target", e.Target),
		zap.String("amount", e.Amount.String()),
	)
	return e, nil
}

type Filter struct {
	TargetContains string
	Type           models.ActionType
	// Limit caps the result; zero or negative returns every match.
	Limit int
}

// Query returns matching entries newest first. Entries stamped in the same second are
// ordered by reverse insertion.
func (l *Ledger) Query(ctx context.Context, f Filter) ([]models.Entry, error) {
	entries, err := l.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(f.TargetContains)
	out := make([]models.Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(e.Target), needle) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// SummarizeByType sums amounts per action type. Every known type is present, with zero
// for types that have no entries or carry no amount.
func (l *Ledger) SummarizeByType(ctx context.Context) (map[models.ActionType]decimal.Decimal, error) {
	entries, err := l.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	sums := make(map[models.ActionType]decimal.Decimal, len(models.ActionTypes))
	for _, t := range models.ActionTypes {
		sums[t] = decimal.Zero
	}
	for _, e := range entries {
		sums[e.Type] = sums[e.Type].Add(e.Amount)
	}
	return sums, nil
}

// Export writes the log in its persisted CSV form.
func (l *Ledger) Export(ctx context.Context, w io.Writer) error {
	entries, err := l.snapshot(ctx)
	if err != nil {
		return err
	}
	return storage.WriteEntries(w, entries)
}

func (l *Ledger) Len(ctx context.Context) (int, error) {
	entries, err := l.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (l *Ledger) currentLocked(ctx context.Context) ([]models.Entry, error) {
	l.mu.RLock()
	loaded := l.loaded
	entries := clone(l.entries)
	l.mu.RUnlock()

	if l.reload || !loaded {
		return l.loadLocked(ctx)
	}
	return entries, nil
}

func (l *Ledger) loadLocked(ctx context.Context) ([]models.Entry, error) {
	entries, err := l.store.LoadEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	l.mu.Lock()
	l.entries = entries
	l.loaded = true
	l.mu.Unlock()

	return clone(entries), nil
}

func (l *Ledger) snapshot(ctx context.Context) ([]models.Entry, error) {
	l.mu.RLock()
	loaded := l.loaded
	entries := clone(l.entries)
	l.mu.RUnlock()

	if l.reload || !loaded {
		return l.Load(ctx)
	}
	return entries, nil
}

func clone(entries []models.Entry) []models.Entry {
	out := make([]models.Entry, len(entries))
	copy(out, entries)
	return out
}
