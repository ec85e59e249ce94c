package jobs_test

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Afrawles/activityreport/internal/apperr"
	"github.com/Afrawles/activityreport/internal/jobs"
)

type fakeService struct {
	mu       sync.Mutex
	periods  []string
	deadline time.Time
	err      error
}

func (f *fakeService) RunScheduled(ctx context.Context, period string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.periods = append(f.periods, period)
	f.deadline, _ = ctx.Deadline()
	return f.err
}

func TestCronRunAppliesTimeout(t *testing.T) {
	svc := &fakeService{}
	cr, err := jobs.NewCron(context.Background(), "0 8 * * MON", "last-week", time.Minute, time.UTC, svc)
	require.NoError(t, err)

	before := time.Now()
	cr.Run()

	assert.Equal(t, []string{"last-week"}, svc.periods)
	assert.WithinDuration(t, before.Add(time.Minute), svc.deadline, 5*time.Second)
}

func TestCronRunSwallowsFailures(t *testing.T) {
	svc := &fakeService{err: goerr.New("smtp down", goerr.T(apperr.TagEmail))}
	cr, err := jobs.NewCron(context.Background(), "@daily", "yesterday", 0, nil, svc)
	require.NoError(t, err)

	assert.NotPanics(t, cr.Run)
	assert.Len(t, svc.periods, 1)
}

func TestCronRunLogsFailureKind(t *testing.T) {
	var buf bytes.Buffer
	ctx := ctxlog.With(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))
	svc := &fakeService{err: goerr.New("smtp down", goerr.T(apperr.TagEmail))}
	cr, err := jobs.NewCron(ctx, "@daily", "yesterday", 0, nil, svc)
	require.NoError(t, err)

	cr.Run()

	out := buf.String()
	assert.Contains(t, out, `"msg":"application error"`)
	assert.Contains(t, out, `"kind":"email"`)
	assert.Contains(t, out, `"job":"report"`)
	assert.Contains(t, out, `"elapsed"`)
}

func TestCronNext(t *testing.T) {
	cr, err := jobs.NewCron(context.Background(), "30 6 * * *", "today", 0, time.UTC, &fakeService{})
	require.NoError(t, err)

	next := cr.Next()
	require.False(t, next.IsZero())
	assert.Equal(t, 6, next.UTC().Hour())
	assert.Equal(t, 30, next.UTC().Minute())
	assert.True(t, next.After(time.Now()))
}

func TestNewCronValidation(t *testing.T) {
	tests := []struct {
		name   string
		spec   string
		period string
	}{
		{"bad expression", "every monday", "last-week"},
		{"seconds field", "0 0 8 * * MON", "last-week"},
		{"unknown period", "0 8 * * MON", "last-quarter"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := jobs.NewCron(context.Background(), tc.spec, tc.period, 0, time.UTC, &fakeService{})
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestCronStartStop(t *testing.T) {
	cr, err := jobs.NewCron(context.Background(), "@hourly", "today", 0, time.UTC, &fakeService{})
	require.NoError(t, err)

	cr.Start()
	select {
	case <-cr.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
