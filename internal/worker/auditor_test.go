package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referral-ledger/internal/monitoring"
	"referral-ledger/internal/referral"
)

type stubInspector struct {
	report referral.Report
	err    error
}

func (s *stubInspector) Inspect(context.Context) (referral.Report, error) {
	return s.report, s.err
}

type recordingNotifier struct {
	messages []string
	err      error
}

func (r *recordingNotifier) Notify(_ context.Context, text string) error {
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, text)
	return nil
}

func newTestAuditor(report referral.Report) (*Auditor, *stubInspector, *recordingNotifier, *time.Time) {
	inspector := &stubInspector{report: report}
	notifier := &recordingNotifier{}
	a := NewAuditor(inspector, notifier, nil, time.Minute, nil)
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return clock }
	return a, inspector, notifier, &clock
}

func TestAuditorAlertsOncePerDefect(t *testing.T) {
	a, inspector, notifier, clock := newTestAuditor(referral.Report{Dangling: []string{"kid1"}})
	ctx := context.Background()

	_, err := a.Run(ctx)
	require.NoError(t, err)
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "kid1")
	assert.Equal(t, float64(1), testutil.ToFloat64(monitoring.IntegrityDefects.WithLabelValues("dangling_referrer")))

	_, err = a.Run(ctx)
	require.NoError(t, err)
	assert.Len(t, notifier.messages, 1)

	inspector.report.Self = []string{"loop"}
	_, err = a.Run(ctx)
	require.NoError(t, err)
	require.Len(t, notifier.messages, 2)
	assert.Contains(t, notifier.messages[1], "loop")
	assert.NotContains(t, notifier.messages[1], "kid1")

	*clock = clock.Add(25 * time.Hour)
	_, err = a.Run(ctx)
	require.NoError(t, err)
	assert.Len(t, notifier.messages, 3)
}

func TestAuditorCleanGraphIsSilent(t *testing.T) {
	a, _, notifier, _ := newTestAuditor(referral.Report{})

	report, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Empty(t, notifier.messages)
	assert.Equal(t, float64(0), testutil.ToFloat64(monitoring.IntegrityDefects.WithLabelValues("dangling_referrer")))
}

func TestAuditorRetriesAfterFailedAlert(t *testing.T) {
	a, _, notifier, _ := newTestAuditor(referral.Report{Duplicates: []string{"dup1"}})
	ctx := context.Background()

	notifier.err = errors.New("telegram down")
	_, err := a.Run(ctx)
	require.NoError(t, err)

	notifier.err = nil
	_, err = a.Run(ctx)
	require.NoError(t, err)
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "dup1")
}

func TestAuditorPropagatesInspectError(t *testing.T) {
	a, inspector, _, _ := newTestAuditor(referral.Report{})
	inspector.err = errors.New("store offline")

	_, err := a.Run(context.Background())
	assert.Error(t, err)
}
