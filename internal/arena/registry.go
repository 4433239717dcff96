package arena

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/timectrl"
)

// Registry owns every live session. It is the single point of mutual
// exclusion for lookup, creation and removal; the lock is never held across
// broadcasts or persistence.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	sink     ResolutionSink
	chatMax  int
}

func NewRegistry(sink ResolutionSink, chatMax int) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		sink:     sink,
		chatMax:  chatMax,
	}
}

// Create builds an Active session for a matched pair, stores it and starts
// its clock. On resolution the session removes itself and the outcome is
// handed to the sink on a separate goroutine.
func (r *Registry) Create(white, black Participant, control timectrl.Control) *Session {
	id := uuid.NewString()
	s := NewSession(id, white, black, control, r.chatMax, func(out *Outcome) {
		r.Remove(out.SessionID)
		if r.sink != nil {
			// Fire-and-observe: persistence must never delay the core.
			go r.sink.HandleResolution(out)
		}
	})

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	obslog.L().Info("session_create",
		zap.String("session_id", id),
		zap.String("class", control.Class),
		zap.String("white", white.Profile.Username),
		zap.String("black", black.Profile.Username),
	)
	return s
}

// Get returns the session by id, or nil when it no longer exists.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Remove deletes the session from the registry. Late events for a removed
// id resolve to not-found at the gateway.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	obslog.L().Info("session_remove", zap.String("session_id", id))
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ForConnection returns every session referencing conn as a participant or
// spectator. Used for disconnect cleanup.
func (r *Registry) ForConnection(conn Recipient) []*Session {
	r.mu.Lock()
	list := make([]*Session, 0, 1)
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()

	// Membership checks take each session's own lock, so they happen
	// outside the registry lock.
	out := list[:0]
	for _, s := range list {
		if s.IsWatcher(conn) {
			out = append(out, s)
		}
	}
	return out
}
