package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goatkit/controlroom/internal/models"
)

// MemorySessionRepository keeps sessions and their logs in process memory.
// It implements both SessionRepository and SessionLogRepository for tests;
// the server always runs on the SQL repositories.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	logs     []*models.SessionLog
	nextLog  int64
}

// NewMemorySessionRepository creates an empty in-memory repository.
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{sessions: make(map[string]*models.Session)}
}

func (r *MemorySessionRepository) Create(_ context.Context, s *models.Session, entries ...*models.SessionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID]; ok {
		return ErrDuplicateCaseID
	}
	for _, existing := range r.sessions {
		if existing.CaseID == s.CaseID {
			return ErrDuplicateCaseID
		}
	}
	r.sessions[s.ID] = s.Clone()
	r.appendLocked(entries)
	return nil
}

func (r *MemorySessionRepository) GetByID(_ context.Context, id string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (r *MemorySessionRepository) GetByCaseID(_ context.Context, caseID string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		if s.CaseID == caseID {
			return s.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemorySessionRepository) CaseIDExists(ctx context.Context, caseID string) (bool, error) {
	_, err := r.GetByCaseID(ctx, caseID)
	if err == ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (r *MemorySessionRepository) List(_ context.Context, filter models.SessionFilter) ([]*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*models.Session{}
	for _, s := range r.sessions {
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.Stage != "" && s.Stage != filter.Stage {
			continue
		}
		if filter.AgentID != "" && s.AgentID != filter.AgentID {
			continue
		}
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemorySessionRepository) ListIdle(_ context.Context, cutoff time.Time) ([]*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*models.Session{}
	for _, s := range r.sessions {
		if s.Status != models.StatusActive {
			continue
		}
		last := s.UpdatedAt
		if s.LastActivityAt != nil {
			last = *s.LastActivityAt
		}
		if last.Before(cutoff) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (r *MemorySessionRepository) Update(_ context.Context, s *models.Session, expected int64, entries ...*models.SessionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.sessions[s.ID]
	if !ok || stored.Version != expected {
		return ErrVersionConflict
	}
	s.Version = expected + 1
	r.sessions[s.ID] = s.Clone()
	r.appendLocked(entries)
	return nil
}

func (r *MemorySessionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(r.sessions, id)
	kept := r.logs[:0]
	for _, l := range r.logs {
		if l.SessionID != id {
			kept = append(kept, l)
		}
	}
	r.logs = kept
	return nil
}

func (r *MemorySessionRepository) Append(_ context.Context, entry *models.SessionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendLocked([]*models.SessionLog{entry})
	return nil
}

func (r *MemorySessionRepository) ListBySession(_ context.Context, sessionID string, types []models.LogType, limit int) ([]*models.SessionLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	allowed := make(map[models.LogType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}

	out := []*models.SessionLog{}
	for i := len(r.logs) - 1; i >= 0; i-- {
		l := r.logs[i]
		if l.SessionID != sessionID {
			continue
		}
		if len(allowed) > 0 && !allowed[l.LogType] {
			continue
		}
		cp := *l
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemorySessionRepository) appendLocked(entries []*models.SessionLog) {
	for _, e := range entries {
		r.nextLog++
		cp := *e
		cp.ID = r.nextLog
		r.logs = append(r.logs, &cp)
	}
}

// MemoryStaffRepository keeps staff users in process memory.
type MemoryStaffRepository struct {
	mu    sync.RWMutex
	users map[string]*models.StaffUser
}

// NewMemoryStaffRepository creates an empty in-memory staff repository.
func NewMemoryStaffRepository() *MemoryStaffRepository {
	return &MemoryStaffRepository{users: make(map[string]*models.StaffUser)}
}

func (r *MemoryStaffRepository) Create(_ context.Context, u *models.StaffUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if existing.Username == u.Username {
			return ErrDuplicateUsername
		}
	}
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *MemoryStaffRepository) GetByID(_ context.Context, id string) (*models.StaffUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryStaffRepository) GetByUsername(_ context.Context, username string) (*models.StaffUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}
