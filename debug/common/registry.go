package common

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type entry struct {
	session Session
	program string
	mode    string
}

// Registry is the session table shared by the session managers.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]entry),
	}
}

// NewSessionID generates a session ID
func NewSessionID() string {
	return fmt.Sprintf("session-%d", uuid.New().ID())
}

func (r *Registry) Add(session Session, program string, mode string) *SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.GetID()] = entry{session: session, program: program, mode: mode}
	return &SessionInfo{
		ID:          session.GetID(),
		ProgramPath: program,
		Mode:        mode,
		State:       "created",
	}
}

func (r *Registry) Get(sessionID string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return e.session, nil
}

// Remove terminates the session and drops it from the table. The session is
// dropped even when termination fails.
func (r *Registry) Remove(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return e.session.Terminate(ctx)
}

func (r *Registry) RemoveAll(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := r.Remove(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) List() []*SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]*SessionInfo, 0, len(r.sessions))
	for id, e := range r.sessions {
		state := "running"
		if e.session.IsPaused() {
			state = "paused"
		}
		result = append(result, &SessionInfo{
			ID:          id,
			ProgramPath: e.program,
			Mode:        e.mode,
			State:       state,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}
