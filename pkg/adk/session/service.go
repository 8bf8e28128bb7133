package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/kagent-dev/supportagent/pkg/adk/auth"
	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
	"github.com/kagent-dev/supportagent/pkg/adk/policy"
)

// Service defines the interface for session management
type Service interface {
	CreateSession(ctx context.Context, req *CreateSessionRequest) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ListSessions(ctx context.Context, userID string) ([]*Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Session is one conversation. Its credential is resolved once at creation;
// its transcript and policy record live only as long as the session.
type Session struct {
	ID         string
	AppName    string
	UserID     string
	CreatedAt  time.Time
	Principal  auth.Principal
	Credential auth.Credential
	State      *ConversationState
	Gatekeeper *policy.Gatekeeper

	turn chan struct{}

	mu        sync.Mutex
	updatedAt time.Time
}

func newSession(id, appName, userID string, principal auth.Principal, cred auth.Credential, gk *policy.Gatekeeper, now time.Time) *Session {
	return &Session{
		ID:         id,
		AppName:    appName,
		UserID:     userID,
		CreatedAt:  now,
		Principal:  principal,
		Credential: cred,
		State:      NewConversationState(),
		Gatekeeper: gk,
		turn:       make(chan struct{}, 1),
		updatedAt:  now,
	}
}

// Acquire takes the session's turn lock. Turns of one session never overlap.
func (s *Session) Acquire(ctx context.Context) error {
	select {
	case s.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release gives the turn lock back.
func (s *Session) Release() {
	s.mu.Lock()
	s.updatedAt = time.Now()
	s.mu.Unlock()
	<-s.turn
}

// UpdatedAt returns the time the last turn finished.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// View snapshots the session. The caller must hold the turn lock when
// includeTurns is set.
func (s *Session) View(includeTurns bool) View {
	v := View{
		ID:        s.ID,
		AppName:   s.AppName,
		UserID:    s.UserID,
		Identity:  s.Principal.Identity,
		Scopes:    append([]string(nil), s.Principal.Scopes...),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt(),
	}
	if includeTurns {
		v.Turns = s.State.Turns()
	}
	return v
}

// InMemoryService keeps sessions in process memory. Nothing is persisted.
type InMemoryService struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	resolver      auth.Resolver
	newGatekeeper func() *policy.Gatekeeper
	log           logr.Logger
	now           func() time.Time
}

// NewInMemoryService creates a session registry. Every session gets its own
// gatekeeper from newGatekeeper so policy records never leak across sessions.
func NewInMemoryService(resolver auth.Resolver, newGatekeeper func() *policy.Gatekeeper, log logr.Logger) *InMemoryService {
	return &InMemoryService{
		sessions:      make(map[string]*Session),
		resolver:      resolver,
		newGatekeeper: newGatekeeper,
		log:           log,
		now:           time.Now,
	}
}

func (s *InMemoryService) CreateSession(ctx context.Context, req *CreateSessionRequest) (*Session, error) {
	if req == nil {
		return nil, adkerrors.New(adkerrors.ErrCodeSessionCreate, "missing request", nil)
	}
	cred := auth.Credential{Token: req.Token}
	principal, err := s.resolver.Resolve(ctx, cred)
	if err != nil {
		s.log.Info("Session refused", "user", req.UserID, "error", err.Error())
		return nil, err
	}

	appName := req.AppName
	if appName == "" {
		appName = "default"
	}
	sess := newSession(uuid.NewString(), appName, req.UserID, principal, cred, s.newGatekeeper(), s.now())

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.log.Info("Session created", "session", sess.ID, "identity", principal.Identity)
	return sess, nil
}

func (s *InMemoryService) GetSession(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, &adkerrors.NotFoundError{Kind: "session", ID: sessionID}
	}
	return sess, nil
}

// ListSessions returns the sessions of userID, or all sessions when userID is
// empty, oldest first.
func (s *InMemoryService) ListSessions(_ context.Context, userID string) ([]*Session, error) {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if userID == "" || sess.UserID == userID {
			out = append(out, sess)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryService) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return &adkerrors.NotFoundError{Kind: "session", ID: sessionID}
	}
	delete(s.sessions, sessionID)
	s.log.Info("Session deleted", "session", sessionID)
	return nil
}

// Len returns the number of live sessions.
func (s *InMemoryService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
