// Package queue is the work distribution layer: an at-least-once
// reservation queue plus the wire format of the items that travel
// through it. Workers must explicitly delete a reserved item;
// reservations that outlive their time-to-run become reservable again,
// which is what makes a worker crash recoverable.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mvreeden/gridsim/internal/geo"
)

// ErrTimeout is returned by Reserve when no item became available
// within the timeout. Callers loop and re-poll.
var ErrTimeout = errors.New("queue: reserve timed out")

// Item is one reserved work item. ID is the queue-assigned reservation
// id, not the work item id inside the body.
type Item struct {
	ID   uint64
	Body []byte
}

// Stats reports queue health. Connected and Watchers are the two
// signals the orchestrator checks before accepting a job: a reachable
// queue with zero watchers would accept work nobody will ever run.
type Stats struct {
	Connected bool
	Watchers  int
	Ready     int
	Reserved  int
}

// Queue is the reservation contract. Implementations must give
// at-least-once delivery: an item reserved but never deleted comes back.
type Queue interface {
	Put(body []byte) (uint64, error)
	Reserve(timeout time.Duration) (*Item, error)
	Delete(id uint64) error
	Release(id uint64, delay time.Duration) error
	Stats() (Stats, error)
	Close() error
}

// WorkItem is the wire shape of one chunk run. It is self-contained:
// the worker needs nothing but this blob and the callback URL to run
// the chunk, which keeps workers stateless and horizontally scalable.
type WorkItem struct {
	WorkItemID       string         `json:"workItemId"`
	ChunkID          string         `json:"chunkId"`
	ConfigurationKey string         `json:"configurationKey"`
	CallbackBaseURL  string         `json:"callbackBaseURL"`
	Parameters       map[string]any `json:"parameters"`
	Grid             geo.Grid       `json:"grid"`
	ScriptSource     string         `json:"scriptSource"`
}

// Encode serializes the work item for the queue.
func (w *WorkItem) Encode() ([]byte, error) {
	body, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("queue: encode work item %s: %w", w.WorkItemID, err)
	}
	return body, nil
}

// DecodeWorkItem parses a queue body. A failure here is a parse
// failure: the item is undecodable and must not be retried.
func DecodeWorkItem(body []byte) (*WorkItem, error) {
	var w WorkItem
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("queue: decode work item: %w", err)
	}
	if w.WorkItemID == "" {
		return nil, fmt.Errorf("queue: work item has no id")
	}
	return &w, nil
}
