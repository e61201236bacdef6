package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"flowhub/internal/models"
)

func snapshotWithRuns(executionID string, runs int) *models.Execution {
	exec := &models.Execution{
		ID:     executionID,
		Status: models.ExecutionStatusRunning,
	}
	for i := 0; i < runs; i++ {
		exec.BlockRuns = append(exec.BlockRuns, models.BlockRun{
			ID:      fmt.Sprintf("run-%d", i),
			BlockID: fmt.Sprintf("block-%d", i),
			Status:  models.BlockRunStatusSuccess,
		})
	}
	return exec
}

func TestSubscribeReceivesSnapshot(t *testing.T) {
	service := NewProgressService(nil)

	subID, ch := service.Subscribe("exec-1")
	defer service.Unsubscribe("exec-1", subID)

	service.Publish("exec-1", snapshotWithRuns("exec-1", 1))

	snapshot := <-ch
	if snapshot.ID != "exec-1" || len(snapshot.BlockRuns) != 1 {
		t.Fatalf("snapshot = %+v, want exec-1 with 1 run", snapshot)
	}
}

func TestLastValueWins(t *testing.T) {
	service := NewProgressService(nil)

	subID, ch := service.Subscribe("exec-1")
	defer service.Unsubscribe("exec-1", subID)

	// Publish faster than the subscriber drains: with a one-slot mailbox
	// the undelivered snapshot must be displaced, never queued behind.
	for i := 1; i <= 10; i++ {
		service.Publish("exec-1", snapshotWithRuns("exec-1", i))
	}

	snapshot := <-ch
	if len(snapshot.BlockRuns) != 10 {
		t.Fatalf("delivered snapshot has %d runs, want the latest (10)", len(snapshot.BlockRuns))
	}

	select {
	case stale := <-ch:
		t.Fatalf("unexpected second delivery with %d runs", len(stale.BlockRuns))
	default:
	}
}

func TestLateSubscriberGetsLatest(t *testing.T) {
	service := NewProgressService(nil)

	service.Publish("exec-1", snapshotWithRuns("exec-1", 3))

	subID, ch := service.Subscribe("exec-1")
	defer service.Unsubscribe("exec-1", subID)

	snapshot := <-ch
	if len(snapshot.BlockRuns) != 3 {
		t.Fatalf("late subscriber got %d runs, want 3", len(snapshot.BlockRuns))
	}
}

func TestSubscribersAreIndependent(t *testing.T) {
	service := NewProgressService(nil)

	subA, chA := service.Subscribe("exec-1")
	subB, chB := service.Subscribe("exec-1")
	defer service.Unsubscribe("exec-1", subA)
	defer service.Unsubscribe("exec-1", subB)

	service.Publish("exec-1", snapshotWithRuns("exec-1", 2))

	// A drains, B stays slow; a second publish must reach both.
	<-chA
	service.Publish("exec-1", snapshotWithRuns("exec-1", 5))

	if got := <-chA; len(got.BlockRuns) != 5 {
		t.Errorf("fast subscriber got %d runs, want 5", len(got.BlockRuns))
	}
	if got := <-chB; len(got.BlockRuns) != 5 {
		t.Errorf("slow subscriber got %d runs, want latest (5)", len(got.BlockRuns))
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	service := NewProgressService(nil)

	subID, ch := service.Subscribe("exec-1")
	service.Unsubscribe("exec-1", subID)

	if count := service.SubscriberCount("exec-1"); count != 0 {
		t.Fatalf("subscriber count = %d after unsubscribe, want 0", count)
	}

	service.Publish("exec-1", snapshotWithRuns("exec-1", 1))

	select {
	case snapshot := <-ch:
		t.Fatalf("delivery after unsubscribe: %+v", snapshot)
	default:
	}
}

func TestSubscribeNeverBlocks(t *testing.T) {
	service := NewProgressService(nil)
	service.Publish("exec-1", snapshotWithRuns("exec-1", 1))

	// Hammer the mailbox from a concurrent publisher so some Subscribe calls
	// find their slot already filled between registration and the cached
	// snapshot send.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				service.Publish("exec-1", snapshotWithRuns("exec-1", 2))
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			subID, _ := service.Subscribe("exec-1")
			service.Unsubscribe("exec-1", subID)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Subscribe blocked against a concurrent publisher")
	}
	close(stop)
	wg.Wait()
}

func TestPublishIsolatedPerExecution(t *testing.T) {
	service := NewProgressService(nil)

	subID, ch := service.Subscribe("exec-1")
	defer service.Unsubscribe("exec-1", subID)

	service.Publish("exec-2", snapshotWithRuns("exec-2", 1))

	select {
	case snapshot := <-ch:
		t.Fatalf("cross-execution delivery: %+v", snapshot)
	default:
	}

	if _, ok := service.Latest("exec-2"); !ok {
		t.Error("latest snapshot for exec-2 not cached")
	}
	if _, ok := service.Latest("exec-1"); ok {
		t.Error("unexpected cached snapshot for exec-1")
	}
}
