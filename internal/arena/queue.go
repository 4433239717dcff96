package arena

import (
	"sync"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/pkg/arenadto"
)

// Entry is one waiting participant in the matchmaking queue.
type Entry struct {
	Conn    Recipient
	Profile arenadto.Profile
	Class   string
}

// Queue pairs waiting participants FIFO within a time-control class. It is
// the single point of mutual exclusion for enqueue/match/remove, so two
// simultaneous compatible requests always yield exactly one pairing.
type Queue struct {
	mu      sync.Mutex
	waiting map[string][]*Entry
}

func NewQueue() *Queue {
	return &Queue{waiting: make(map[string][]*Entry)}
}

// Match pops the oldest compatible waiting entry, or enqueues e when none
// exists. The second return is true when an opponent was found; e is then
// NOT enqueued and the caller owns the pairing.
func (q *Queue) Match(e *Entry) (*Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.waiting[e.Class]
	for i, other := range list {
		if other.Conn == e.Conn {
			continue
		}
		q.waiting[e.Class] = append(list[:i:i], list[i+1:]...)
		obslog.L().Info("queue_match",
			zap.String("class", e.Class),
			zap.String("player", e.Profile.Username),
			zap.String("opponent", other.Profile.Username),
		)
		return other, true
	}

	q.waiting[e.Class] = append(list, e)
	obslog.L().Info("queue_enqueue",
		zap.String("class", e.Class),
		zap.String("player", e.Profile.Username),
	)
	return nil, false
}

// RemoveIfWaiting deletes the entry owned by conn if it is still pending.
// Returns false when the entry was already matched or never enqueued; it is
// safe to race with Match, only one of the two can win for a given entry.
func (q *Queue) RemoveIfWaiting(conn Recipient) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for class, list := range q.waiting {
		for i, e := range list {
			if e.Conn == conn {
				q.waiting[class] = append(list[:i:i], list[i+1:]...)
				obslog.L().Info("queue_remove", zap.String("class", class))
				return true
			}
		}
	}
	return false
}

// Waiting reports whether conn has a pending entry.
func (q *Queue) Waiting(conn Recipient) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, list := range q.waiting {
		for _, e := range list {
			if e.Conn == conn {
				return true
			}
		}
	}
	return false
}

// Len returns the total number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, list := range q.waiting {
		n += len(list)
	}
	return n
}
