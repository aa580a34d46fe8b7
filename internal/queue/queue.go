// Package queue implements the ordered retry queue of mutations that the
// primary store has accepted and the backup store has not yet applied.
//
// The queue is strictly FIFO: only the head is ever removed by a flush, so
// the backup sees mutations in the order the primary applied them. When a
// path is configured every change is persisted as JSONL before the call
// returns, so the queue survives a restart of the process.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mesh-intelligence/photovault/pkg/types"
)

// ErrEmpty is returned by head operations on an empty queue.
var ErrEmpty = errors.New("retry queue is empty")

// Item is one queued mutation.
type Item struct {
	MutationID string             `json:"mutation_id"`
	Kind       types.MutationKind `json:"kind"`
	Mutation   json.RawMessage    `json:"mutation"`
	EnqueuedAt time.Time          `json:"enqueued_at"`
	Attempts   int                `json:"attempts"`
	LastError  string             `json:"last_error,omitempty"`
}

// NewItem builds a queue item from an envelope.
func NewItem(env types.Envelope, now time.Time) (Item, error) {
	raw, err := types.EncodeMutation(env.Mutation)
	if err != nil {
		return Item{}, fmt.Errorf("encoding mutation %s: %w", env.ID, err)
	}
	return Item{
		MutationID: env.ID,
		Kind:       env.Mutation.Kind(),
		Mutation:   raw,
		EnqueuedAt: now.UTC(),
	}, nil
}

// Envelope rebuilds the envelope the item was created from.
func (it Item) Envelope() (types.Envelope, error) {
	m, err := types.DecodeMutation(it.Mutation)
	if err != nil {
		return types.Envelope{}, fmt.Errorf("decoding queued mutation %s: %w", it.MutationID, err)
	}
	return types.Envelope{ID: it.MutationID, Mutation: m, SubmittedAt: it.EnqueuedAt}, nil
}

// Queue is a FIFO of Items, optionally persisted to a JSONL file. Queue is
// safe for concurrent use.
type Queue struct {
	mu    sync.RWMutex
	items []Item
	path  string
}

// New returns an in-memory queue.
func New() *Queue {
	return &Queue{}
}

// Open returns a queue persisted at path, loading any items a previous
// process left behind. Malformed lines are skipped.
func Open(path string) (*Queue, error) {
	records, err := readJSONL(path)
	if err != nil {
		return nil, err
	}
	q := &Queue{path: path}
	for _, rec := range records {
		var it Item
		if err := json.Unmarshal(rec, &it); err != nil || it.MutationID == "" {
			continue
		}
		q.items = append(q.items, it)
	}
	return q, nil
}

// Path returns the persistence file, or "" for an in-memory queue.
func (q *Queue) Path() string { return q.path }

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Items returns a copy of the queue contents, head first.
func (q *Queue) Items() []Item {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

// Front returns the head item without removing it.
func (q *Queue) Front() (Item, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0], true
}

// Contains reports whether an item with mutationID is queued.
func (q *Queue) Contains(mutationID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.indexLocked(mutationID) >= 0
}

// PushBack appends it at the tail. The in-memory queue keeps the item even
// when persisting fails; the returned error reports the persistence failure.
func (q *Queue) PushBack(it Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, it)
	return q.persistLocked()
}

// PopFront removes and returns the head item.
func (q *Queue) PopFront() (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, ErrEmpty
	}
	it := q.items[0]
	q.items[0] = Item{}
	q.items = q.items[1:]
	return it, q.persistLocked()
}

// MarkFailed records a failed attempt on the head item, which stays in
// place.
func (q *Queue) MarkFailed(cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return ErrEmpty
	}
	q.items[0].Attempts++
	if cause != nil {
		q.items[0].LastError = cause.Error()
	}
	return q.persistLocked()
}

// Remove deletes the item with mutationID wherever it sits. Recovery uses
// this when the backup turns out to hold a mutation already.
func (q *Queue) Remove(mutationID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexLocked(mutationID)
	if i < 0 {
		return false, nil
	}
	q.items = append(q.items[:i], q.items[i+1:]...)
	return true, q.persistLocked()
}

// Replace swaps the queue contents for items, head first.
func (q *Queue) Replace(items []Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]Item(nil), items...)
	return q.persistLocked()
}

// Clear drops every item.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	return q.persistLocked()
}

func (q *Queue) indexLocked(mutationID string) int {
	for i, it := range q.items {
		if it.MutationID == mutationID {
			return i
		}
	}
	return -1
}

func (q *Queue) persistLocked() error {
	if q.path == "" {
		return nil
	}
	records := make([]json.RawMessage, 0, len(q.items))
	for _, it := range q.items {
		rec, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("marshaling queue item %s: %w", it.MutationID, err)
		}
		records = append(records, rec)
	}
	if err := writeJSONL(q.path, records); err != nil {
		return fmt.Errorf("persisting retry queue: %w", err)
	}
	return nil
}
