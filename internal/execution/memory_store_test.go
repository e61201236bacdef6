package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"flowhub/internal/models"
)

func seedWaiting(t *testing.T, store *MemoryStore) *models.Execution {
	t.Helper()
	exec := &models.Execution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusWaitingBlock,
		WaitingBlock: &models.WaitingBlock{
			BlockID: "approve",
			Input:   models.WaitingBlockInput{Title: "Approve?"},
		},
		BlockRuns: []models.BlockRun{
			{ID: "run-1", BlockID: "start", Status: models.BlockRunStatusSuccess},
			{ID: "run-2", BlockID: "approve", Status: models.BlockRunStatusRunning},
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Create(context.Background(), exec); err != nil {
		t.Fatal(err)
	}
	return exec
}

func TestMemoryStore_ClaimResume(t *testing.T) {
	store := NewMemoryStore()
	seedWaiting(t, store)

	snapshot, err := store.ClaimResume(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("ClaimResume: %v", err)
	}
	if snapshot.WaitingBlock == nil || snapshot.WaitingBlock.BlockID != "approve" {
		t.Fatalf("snapshot lost the waiting descriptor: %+v", snapshot.WaitingBlock)
	}

	after, err := store.Get(context.Background(), "exec-1")
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != models.ExecutionStatusRunning {
		t.Errorf("post-claim status = %s, want running", after.Status)
	}
	if after.WaitingBlock != nil {
		t.Error("post-claim waiting descriptor not cleared")
	}

	if _, err := store.ClaimResume(context.Background(), "exec-1"); err != ErrNotWaiting {
		t.Fatalf("second claim: err = %v, want ErrNotWaiting", err)
	}
}

func TestMemoryStore_ClaimResumeRace(t *testing.T) {
	store := NewMemoryStore()
	seedWaiting(t, store)

	const claimers = 8
	errs := make(chan error, claimers)
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ClaimResume(context.Background(), "exec-1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, rejections int
	for err := range errs {
		switch err {
		case nil:
			wins++
		case ErrNotWaiting:
			rejections++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1 (%d rejections)", wins, rejections)
	}
}

func TestMemoryStore_SnapshotsAreIsolated(t *testing.T) {
	store := NewMemoryStore()
	seedWaiting(t, store)

	snapshot, err := store.Get(context.Background(), "exec-1")
	if err != nil {
		t.Fatal(err)
	}
	snapshot.BlockRuns[0].Status = models.BlockRunStatusError
	snapshot.WaitingBlock.BlockID = "tampered"

	fresh, err := store.Get(context.Background(), "exec-1")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.BlockRuns[0].Status != models.BlockRunStatusSuccess {
		t.Error("mutating a snapshot leaked into the store")
	}
	if fresh.WaitingBlock.BlockID != "approve" {
		t.Error("mutating a snapshot descriptor leaked into the store")
	}
}

func TestMemoryStore_UpdateBlockRunByIteration(t *testing.T) {
	store := NewMemoryStore()
	exec := &models.Execution{
		ID:     "exec-2",
		Status: models.ExecutionStatusRunning,
		BlockRuns: []models.BlockRun{
			{ID: "r1", BlockID: "double", IterationPath: "0", Status: models.BlockRunStatusSuccess},
			{ID: "r2", BlockID: "double", IterationPath: "1", Status: models.BlockRunStatusRunning},
		},
	}
	if err := store.Create(context.Background(), exec); err != nil {
		t.Fatal(err)
	}

	if err := store.UpdateBlockRun(context.Background(), "exec-2", models.BlockRun{
		ID: "r2", BlockID: "double", IterationPath: "1", Status: models.BlockRunStatusSuccess,
	}); err != nil {
		t.Fatal(err)
	}

	after, _ := store.Get(context.Background(), "exec-2")
	if after.BlockRuns[0].Status != models.BlockRunStatusSuccess {
		t.Error("iteration 0 run touched")
	}
	if after.BlockRuns[1].Status != models.BlockRunStatusSuccess {
		t.Error("iteration 1 run not updated")
	}
}

func TestMemoryStore_SetStatusGuardsTransitions(t *testing.T) {
	store := NewMemoryStore()
	seedWaiting(t, store)

	// waitingBlock may not jump straight to success.
	if err := store.SetStatus(context.Background(), "exec-1", models.ExecutionStatusSuccess, StatusExtra{}); err == nil {
		t.Fatal("waitingBlock -> success accepted")
	}

	if err := store.SetStatus(context.Background(), "exec-1", models.ExecutionStatusRunning, StatusExtra{}); err != nil {
		t.Fatalf("waitingBlock -> running: %v", err)
	}
	if err := store.SetStatus(context.Background(), "exec-1", models.ExecutionStatusSuccess, StatusExtra{}); err != nil {
		t.Fatalf("running -> success: %v", err)
	}

	// Terminal states have no exits.
	if err := store.SetStatus(context.Background(), "exec-1", models.ExecutionStatusRunning, StatusExtra{}); err == nil {
		t.Fatal("success -> running accepted")
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "ghost"); err != ErrExecutionNotFound {
		t.Errorf("Get: err = %v, want ErrExecutionNotFound", err)
	}
	if _, err := store.ClaimResume(context.Background(), "ghost"); err != ErrExecutionNotFound {
		t.Errorf("ClaimResume: err = %v, want ErrExecutionNotFound", err)
	}
}
