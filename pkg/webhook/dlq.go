package webhook

import (
	"sync"

	"github.com/flywheelhq/flywheel/pkg/models"
)

const deadLetterCap = 500

// deadLetterQueue retains failed deliveries for manual replay. It is bounded;
// when full the oldest entry is evicted.
type deadLetterQueue struct {
	mu      sync.Mutex
	entries []*models.DeadLetter
}

func newDeadLetterQueue() *deadLetterQueue {
	return &deadLetterQueue{}
}

func (q *deadLetterQueue) Push(entry *models.DeadLetter) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= deadLetterCap {
		q.entries = q.entries[1:]
	}

	q.entries = append(q.entries, entry)
}

func (q *deadLetterQueue) Get(id string) (*models.DeadLetter, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if e.ID == id {
			return e, true
		}
	}

	return nil, false
}

// Pending returns entries not yet replayed, oldest first.
func (q *deadLetterQueue) Pending() []*models.DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := make([]*models.DeadLetter, 0)

	for _, e := range q.entries {
		if e.Status == models.DeadLetterPending {
			pending = append(pending, e)
		}
	}

	return pending
}

func (q *deadLetterQueue) MarkReplayed(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if e.ID == id {
			e.Status = models.DeadLetterReplayed

			return
		}
	}
}

func (q *deadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}
