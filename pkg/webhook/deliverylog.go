package webhook

import (
	"sync"

	"github.com/flywheelhq/flywheel/pkg/models"
)

const deliveryLogCap = 2000

// deliveryLog is a bounded ring of recent delivery attempts, kept for
// debugging endpoints. Oldest entries are dropped once the cap is reached.
type deliveryLog struct {
	mu      sync.Mutex
	entries []models.DeliveryAttempt
}

func newDeliveryLog() *deliveryLog {
	return &deliveryLog{}
}

func (l *deliveryLog) Append(attempt models.DeliveryAttempt) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= deliveryLogCap {
		l.entries = l.entries[1:]
	}

	l.entries = append(l.entries, attempt)
}

// Recent returns up to n of the most recent attempts, newest last.
func (l *deliveryLog) Recent(n int) []models.DeliveryAttempt {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}

	out := make([]models.DeliveryAttempt, n)
	copy(out, l.entries[len(l.entries)-n:])

	return out
}
