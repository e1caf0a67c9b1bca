package search

import (
	"testing"
	"time"

	"github.com/skymind/fleetkit/fleet"
)

// --- Unit Tests ---

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := New(Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func seedIndex(t *testing.T, ix *Index) {
	t.Helper()

	tasks := []*fleet.Task{
		{
			TaskID:      "task-1",
			Title:       "Deliver medical supplies",
			Description: "Package drop at field hospital north ridge",
			Type:        fleet.TaskDelivery,
			Status:      fleet.TaskPending,
			CreatedAt:   time.Now(),
		},
		{
			TaskID:      "task-2",
			Title:       "Inspect bridge pylons",
			Description: "Close pass over the river crossing",
			Type:        fleet.TaskInspection,
			Status:      fleet.TaskCompleted,
			CreatedAt:   time.Now(),
		},
	}
	for _, task := range tasks {
		if err := ix.IndexTask(task); err != nil {
			t.Fatalf("IndexTask(%s) failed: %v", task.TaskID, err)
		}
	}

	event := &fleet.Event{
		EventID:     "evt-1",
		Type:        fleet.EventEmergency,
		Level:       fleet.LevelHigh,
		Title:       "Fire detected near bridge",
		Description: "Smoke plume at the river crossing",
		Status:      fleet.EventNew,
		DetectedAt:  time.Now(),
	}
	if err := ix.IndexEvent(event); err != nil {
		t.Fatalf("IndexEvent failed: %v", err)
	}
}

func TestSearchMatchesText(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	hits, err := ix.Search("medical supplies", Options{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one hit")
	}
	if hits[0].ID != "task-1" {
		t.Errorf("expected task-1 first, got %s", hits[0].ID)
	}
	if hits[0].Kind != KindTask {
		t.Errorf("expected kind task, got %s", hits[0].Kind)
	}
	if hits[0].Title != "Deliver medical supplies" {
		t.Errorf("unexpected title %q", hits[0].Title)
	}
}

func TestSearchKindFilter(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	hits, err := ix.Search("bridge", Options{Kind: KindEvent})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 event hit, got %d", len(hits))
	}
	if hits[0].ID != "evt-1" {
		t.Errorf("expected evt-1, got %s", hits[0].ID)
	}
}

func TestSearchStatusFilter(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	hits, err := ix.Search("bridge", Options{Kind: KindTask, Status: string(fleet.TaskCompleted)})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].ID != "task-2" {
		t.Errorf("expected task-2, got %s", hits[0].ID)
	}
}

func TestIndexUpdateReplacesDocument(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	updated := &fleet.Task{
		TaskID:    "task-1",
		Title:     "Deliver medical supplies",
		Type:      fleet.TaskDelivery,
		Status:    fleet.TaskCompleted,
		CreatedAt: time.Now(),
	}
	if err := ix.IndexTask(updated); err != nil {
		t.Fatalf("IndexTask failed: %v", err)
	}

	hits, err := ix.Search("medical", Options{Status: string(fleet.TaskPending)})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected stale status to be gone, got %d hits", len(hits))
	}

	hits, err = ix.Search("medical", Options{Status: string(fleet.TaskCompleted)})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("expected updated document, got %d hits", len(hits))
	}
}

func TestRemoveAndCount(t *testing.T) {
	ix := newTestIndex(t)
	seedIndex(t, ix)

	count, err := ix.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 documents, got %d", count)
	}

	if err := ix.Remove("task-2"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	count, err = ix.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 documents after removal, got %d", count)
	}
}

func TestIndexIgnoresNilAndEmpty(t *testing.T) {
	ix := newTestIndex(t)

	if err := ix.IndexTask(nil); err != nil {
		t.Errorf("nil task should be ignored, got %v", err)
	}
	if err := ix.IndexTask(&fleet.Task{}); err != nil {
		t.Errorf("empty task id should be ignored, got %v", err)
	}
	if err := ix.IndexEvent(nil); err != nil {
		t.Errorf("nil event should be ignored, got %v", err)
	}

	count, err := ix.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty index, got %d", count)
	}
}
