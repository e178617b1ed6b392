package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-apps/core"
)

type recordingService struct {
	ticks []time.Time
	err   error
}

func (r *recordingService) RunScheduled(_ context.Context, tick time.Time) (core.ScheduledRunResult, error) {
	r.ticks = append(r.ticks, tick)
	return core.ScheduledRunResult{Tick: tick, Invoked: 1}, r.err
}

type recordingEnqueuer struct {
	ticks []time.Time
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, tick time.Time) error {
	r.ticks = append(r.ticks, tick)
	return nil
}

func TestFire_TruncatesTickToMinute(t *testing.T) {
	svc := &recordingService{}
	now := time.Date(2024, 3, 1, 10, 0, 37, 500, time.FixedZone("CET", 3600))
	s, err := New(RunService(svc, nil), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	s.fire(context.Background())

	if len(svc.ticks) != 1 {
		t.Fatalf("expected one tick, got %d", len(svc.ticks))
	}
	if want := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC); !svc.ticks[0].Equal(want) || svc.ticks[0].Location() != time.UTC {
		t.Fatalf("expected %s, got %s", want, svc.ticks[0])
	}
}

func TestFire_SwallowsRunErrorsAndSkipsCanceledContext(t *testing.T) {
	svc := &recordingService{err: errors.New("one app failed")}
	s, _ := New(RunService(svc, nil))
	s.fire(context.Background())
	if len(svc.ticks) != 1 {
		t.Fatalf("expected tick to run despite error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.fire(ctx)
	if len(svc.ticks) != 1 {
		t.Fatalf("expected canceled context to skip the tick")
	}
}

func TestEnqueue_ForwardsTicks(t *testing.T) {
	enqueuer := &recordingEnqueuer{}
	s, _ := New(Enqueue(enqueuer), WithClock(func() time.Time { return time.Date(2024, 3, 1, 9, 5, 1, 0, time.UTC) }))
	s.fire(context.Background())
	if len(enqueuer.ticks) != 1 || enqueuer.ticks[0].Minute() != 5 || enqueuer.ticks[0].Second() != 0 {
		t.Fatalf("unexpected enqueued ticks %#v", enqueuer.ticks)
	}
}

func TestStart_ValidatesSpecAndReportsNextRun(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expected nil tick func error")
	}

	bad, _ := New(RunService(&recordingService{}, nil), WithSpec("every now and then"))
	if err := bad.Start(context.Background()); err == nil {
		t.Fatalf("expected invalid spec error")
	}

	s, _ := New(RunService(&recordingService{}, nil), WithSpec("@every 1h"))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected double start error")
	}
	if s.NextRun().IsZero() {
		t.Fatalf("expected next run to be planned")
	}
	s.Stop()
	if !s.NextRun().IsZero() {
		t.Fatalf("expected stopped scheduler to report no next run")
	}
}
