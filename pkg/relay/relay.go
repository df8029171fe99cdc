// Package relay is the mailbox between the agent and the polling front end.
// The agent enqueues display instructions; the front end drains them.
package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridmind/gridmind/pkg/domain"
)

const maxHistory = 100

// Queue holds pending UI commands and a bounded history of drained ones.
type Queue struct {
	mu      sync.Mutex
	pending []domain.UICommand
	history []domain.UICommand
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Add enqueues one command and returns its assigned id.
func (q *Queue) Add(cmd domain.UICommand) string {
	id := uuid.New().String()[:8]
	entry := domain.UICommand{"id": id, "timestamp": time.Now().Unix()}
	for k, v := range cmd {
		entry[k] = v
	}

	q.mu.Lock()
	q.pending = append(q.pending, entry)
	q.mu.Unlock()
	return id
}

// AddBatch enqueues commands in order and returns their ids.
func (q *Queue) AddBatch(cmds []domain.UICommand) []string {
	ids := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		ids = append(ids, q.Add(cmd))
	}
	return ids
}

// Drain atomically moves all pending commands into history and returns them.
func (q *Queue) Drain() []domain.UICommand {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.pending
	q.pending = nil
	q.history = append(q.history, out...)
	if len(q.history) > maxHistory {
		q.history = q.history[len(q.history)-maxHistory:]
	}
	if out == nil {
		out = []domain.UICommand{}
	}
	return out
}

// Peek returns the pending commands without draining them.
func (q *Queue) Peek() []domain.UICommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.UICommand(nil), q.pending...)
}

// History returns up to limit of the most recently drained commands.
func (q *Queue) History(limit int) []domain.UICommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit <= 0 || limit > len(q.history) {
		limit = len(q.history)
	}
	return append([]domain.UICommand(nil), q.history[len(q.history)-limit:]...)
}

// Clear drops all pending and historical commands.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.pending = nil
	q.history = nil
	q.mu.Unlock()
}
