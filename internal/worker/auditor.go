package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"referral-ledger/internal/monitoring"
	"referral-ledger/internal/notify"
	"referral-ledger/internal/referral"
)

const (
	notifyKeyPrefix = "referral-ledger:audit:"
	notifyTTL       = 24 * time.Hour
)

type Inspector interface {
	Inspect(ctx context.Context) (referral.Report, error)
}

// Auditor periodically checks the referral graph, exports the defect counts as
// gauges and alerts the operator about each defect at most once per day.
type Auditor struct {
	Members  Inspector
	Notifier notify.Notifier
	Redis    *redis.Client
	Interval time.Duration
	Log      *zap.Logger

	now  func() time.Time
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewAuditor(members Inspector, notifier notify.Notifier, rdb *redis.Client, interval time.Duration, log *zap.Logger) *Auditor {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Auditor{
		Members:  members,
		Notifier: notifier,
		Redis:    rdb,
		Interval: interval,
		Log:      log,
		now:      time.Now,
		seen:     make(map[string]time.Time),
	}
}

// Start runs an audit immediately and then on every tick until ctx is done.
func (a *Auditor) Start(ctx context.Context) {
	ticker := time.NewTicker(a.Interval)
	defer ticker.Stop()
	a.Log.Info("referral auditor started", zap.Duration("interval", a.Interval))

	a.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runLogged(ctx)
		}
	}
}

func (a *Auditor) runLogged(ctx context.Context) {
	if _, err := a.Run(ctx); err != nil {
		a.Log.Error("referral audit failed", zap.Error(err))
	}
}

// Run performs one audit cycle and returns what it found.
func (a *Auditor) Run(ctx context.Context) (referral.Report, error) {
	report, err := a.Members.Inspect(ctx)
	if err != nil {
		return referral.Report{}, err
	}

	monitoring.IntegrityDefects.WithLabelValues("dangling_referrer").Set(float64(len(report.Dangling)))
	monitoring.IntegrityDefects.WithLabelValues("self_referral").Set(float64(len(report.Self)))
	monitoring.IntegrityDefects.WithLabelValues("duplicate_id").Set(float64(len(report.Duplicates)))

	if report.Clean() {
		return report, nil
	}
	a.Log.Warn("referral graph has defects",
		zap.Strings("dangling", report.Dangling),
		zap.Strings("self", report.Self),
		zap.Strings("duplicates", report.Duplicates),
	)

	var keys, lines []string
	collect := func(kind, label string, ids []string) {
		for _, id := range ids {
			key := notifyKeyPrefix + kind + ":" + id
			if a.notified(ctx, key) {
				continue
			}
			keys = append(keys, key)
			lines = append(lines, fmt.Sprintf("- %s: %s", label, id))
		}
	}
	collect("dangling", "referrer does not exist", report.Dangling)
	collect("self", "refers to itself", report.Self)
	collect("duplicate", "duplicate id", report.Duplicates)

	if len(lines) == 0 {
		return report, nil
	}
	text := fmt.Sprintf("Referral audit found %d new defect(s):\n%s", len(lines), strings.Join(lines, "\n"))
	if err := a.Notifier.Notify(ctx, text); err != nil {
		a.Log.Error("failed to send audit alert", zap.Error(err))
		return report, nil
	}
	for _, key := range keys {
		a.markNotified(ctx, key)
	}
	return report, nil
}

func (a *Auditor) notified(ctx context.Context, key string) bool {
	if a.Redis != nil {
		exists, err := a.Redis.Exists(ctx, key).Result()
		if err == nil {
			return exists > 0
		}
		a.Log.Warn("redis unavailable, using local alert state", zap.Error(err))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	at, ok := a.seen[key]
	return ok && a.now().Sub(at) < notifyTTL
}

func (a *Auditor) markNotified(ctx context.Context, key string) {
	if a.Redis != nil {
		if err := a.Redis.Set(ctx, key, "true", notifyTTL).Err(); err == nil {
			return
		}
	}
	a.mu.Lock()
	a.seen[key] = a.now()
	a.mu.Unlock()
}
