package iot

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStorePrune(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	now := t0.Add(10 * 24 * time.Hour)

	add := func(queue, id string, processed bool, at time.Time) {
		t.Helper()
		ev := GateEvent{ID: id, DeviceID: "d", CreatedAt: at}
		if err := st.Enqueue(ctx, queue, ev); err != nil {
			t.Fatal(err)
		}
		ev.Processed, ev.ProcessedAt = processed, at
		if err := st.MarkProcessed(ctx, queue, ev); err != nil {
			t.Fatal(err)
		}
	}
	add(EntryQueue, "old-entry", true, now.Add(-25*time.Hour))
	add(EntryQueue, "fresh-entry", true, now.Add(-time.Hour))
	add(EntryQueue, "old-unprocessed", false, now.Add(-48*time.Hour))
	add(ExitQueue, "old-exit", true, now.Add(-30*time.Hour))

	_ = st.PushCommand(ctx, Command{ID: "c-old", DeviceID: "d", Executed: true, ExecutedAt: now.Add(-25 * time.Hour)})
	_ = st.PushCommand(ctx, Command{ID: "c-pending", DeviceID: "d", CreatedAt: now.Add(-72 * time.Hour)})

	_ = st.AppendLog(ctx, LogEntry{Message: "old", At: now.Add(-8 * 24 * time.Hour)})
	_ = st.AppendLog(ctx, LogEntry{Message: "recent", At: now.Add(-6 * 24 * time.Hour)})

	res, err := st.Prune(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	want := PruneResult{EntryQueue: 2, ExitQueue: 1, Commands: 1, Logs: 1}
	if res != want {
		t.Fatalf("prune = %+v, want %+v", res, want)
	}
	if _, ok := st.queues[EntryQueue]["old-unprocessed"]; ok {
		t.Fatal("stale unprocessed item was kept")
	}
	if _, ok := st.queues[EntryQueue]["fresh-entry"]; !ok {
		t.Fatal("fresh item was pruned")
	}
	if _, ok := st.commands["c-pending"]; !ok {
		t.Fatal("pending command was pruned")
	}
	if logs := st.Logs(); len(logs) != 1 || logs[0].Message != "recent" {
		t.Fatalf("logs = %+v", logs)
	}
}

func TestNextCommandOldestFirst(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	_ = st.PushCommand(ctx, Command{ID: "second", DeviceID: "d", CreatedAt: t0.Add(time.Minute)})
	_ = st.PushCommand(ctx, Command{ID: "first", DeviceID: "d", CreatedAt: t0})
	_ = st.PushCommand(ctx, Command{ID: "other", DeviceID: "e", CreatedAt: t0.Add(-time.Hour)})

	for _, want := range []string{"first", "second"} {
		c, err := st.NextCommand(ctx, "d", t0)
		if err != nil {
			t.Fatal(err)
		}
		if c.ID != want {
			t.Fatalf("got %s, want %s", c.ID, want)
		}
	}
}

func TestWaitingExits(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	add := func(id, session string, action Action, at time.Time) {
		t.Helper()
		ev := GateEvent{ID: id, DeviceID: "d", SessionID: session, Action: action, Processed: true, CreatedAt: at}
		if err := st.Enqueue(ctx, ExitQueue, ev); err != nil {
			t.Fatal(err)
		}
	}
	add("late", "s1", WaitPayment, t0.Add(time.Hour))
	add("early", "s2", WaitPayment, t0.Add(time.Minute))
	add("opened", "s3", OpenBarrier, t0.Add(time.Minute))
	add("denied", "", DenyExit, t0.Add(time.Minute))
	add("stale", "s4", WaitPayment, t0.Add(-time.Hour))

	got, err := st.WaitingExits(ctx, t0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "early" || got[1].ID != "late" {
		t.Fatalf("waiting = %+v", got)
	}
}
