package queue

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mvreeden/gridsim/internal/geo"
)

func TestMemory_PutReserveDelete(t *testing.T) {
	q := NewMemory(time.Hour, clockwork.NewFakeClock())

	id1, err := q.Put([]byte("first"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := q.Put([]byte("second")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	item, err := q.Reserve(time.Second)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if item.ID != id1 || string(item.Body) != "first" {
		t.Errorf("got item %d %q, want oldest first", item.ID, item.Body)
	}

	if err := q.Delete(item.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	stats, err := q.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Ready != 1 || stats.Reserved != 0 {
		t.Errorf("stats = %+v, want one ready, none reserved", stats)
	}
}

func TestMemory_EmptyReserveTimesOut(t *testing.T) {
	q := NewMemory(time.Hour, clockwork.NewFakeClock())
	if _, err := q.Reserve(time.Second); err != ErrTimeout {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestMemory_ExpiredReservationComesBack(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewMemory(time.Minute, clock)

	if _, err := q.Put([]byte("crashy")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	first, err := q.Reserve(time.Second)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	// Within the time-to-run the item stays invisible.
	clock.Advance(30 * time.Second)
	if _, err := q.Reserve(time.Second); err != ErrTimeout {
		t.Fatalf("item redelivered before its time-to-run expired: %v", err)
	}

	// After the worker "crashes" past the deadline it is redelivered.
	clock.Advance(31 * time.Second)
	second, err := q.Reserve(time.Second)
	if err != nil {
		t.Fatalf("Reserve after expiry: %v", err)
	}
	if string(second.Body) != string(first.Body) {
		t.Errorf("redelivered body = %q, want %q", second.Body, first.Body)
	}
}

func TestMemory_Release(t *testing.T) {
	q := NewMemory(time.Hour, clockwork.NewFakeClock())
	if _, err := q.Put([]byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	item, err := q.Reserve(time.Second)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := q.Release(item.ID, 0); err != nil {
		t.Fatalf("Release: %v", err)
	}
	again, err := q.Reserve(time.Second)
	if err != nil {
		t.Fatalf("Reserve after release: %v", err)
	}
	if again.ID != item.ID {
		t.Errorf("released item not redelivered: %d vs %d", again.ID, item.ID)
	}
}

func TestWorkItem_RoundTrip(t *testing.T) {
	w := WorkItem{
		WorkItemID:       "wi-1",
		ChunkID:          "ch-1",
		ConfigurationKey: "abcdef",
		CallbackBaseURL:  "http://127.0.0.1:5000/api/v1",
		Parameters:       map[string]any{"rate": 0.5},
		Grid: geo.Grid{
			ChunkID:  "ch-1",
			CellSize: 100,
			Rows:     10,
			Cols:     12,
			SRID:     32631,
		},
		ScriptSource: "model source",
	}
	body, err := w.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeWorkItem(body)
	if err != nil {
		t.Fatalf("DecodeWorkItem: %v", err)
	}
	if got.WorkItemID != w.WorkItemID || got.Grid.SRID != 32631 || got.ScriptSource != w.ScriptSource {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestDecodeWorkItem_Rejects(t *testing.T) {
	if _, err := DecodeWorkItem([]byte("not json")); err == nil {
		t.Error("malformed body accepted")
	}
	if _, err := DecodeWorkItem([]byte(`{"chunkId":"c"}`)); err == nil {
		t.Error("body without work item id accepted")
	}
}
