package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/iliyamo/parking-reservation/internal/iot"
)

type countingExpirer struct {
	calls int
	err   error
}

func (e *countingExpirer) ExpireReservations(context.Context) (int, error) {
	e.calls++
	return 2, e.err
}

type countingPruner struct{ calls int }

func (p *countingPruner) Prune(context.Context) (iot.PruneResult, error) {
	p.calls++
	return iot.PruneResult{Logs: 3}, nil
}

func TestNewRegistersJobs(t *testing.T) {
	s, err := New(Config{}, &countingExpirer{}, &countingPruner{})
	if err != nil {
		t.Fatal(err)
	}
	if n := len(s.cron.Entries()); n != 2 {
		t.Fatalf("entries = %d, want 2", n)
	}
	s, err = New(Config{}, &countingExpirer{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(s.cron.Entries()); n != 1 {
		t.Fatalf("entries without pruner = %d, want 1", n)
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	if _, err := New(Config{ExpirySchedule: "every now and then"}, &countingExpirer{}, nil); err == nil {
		t.Fatal("expected an error for a bad expiry schedule")
	}
	if _, err := New(Config{PruneSchedule: "61 * * * *"}, &countingExpirer{}, &countingPruner{}); err == nil {
		t.Fatal("expected an error for a bad prune schedule")
	}
}

func TestRunJobs(t *testing.T) {
	e, p := &countingExpirer{}, &countingPruner{}
	s, err := New(Config{}, e, p)
	if err != nil {
		t.Fatal(err)
	}
	s.RunExpiry()
	s.RunPrune()
	e.err = errors.New("store down")
	s.RunExpiry()
	if e.calls != 2 || p.calls != 1 {
		t.Fatalf("expiry calls=%d prune calls=%d", e.calls, p.calls)
	}
}
