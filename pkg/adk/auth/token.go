package auth

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
)

const (
	DefaultRefreshPeriod = 60 * time.Second
)

// CredentialSource supplies the credential the agent presents to the action
// backend on behalf of a session.
type CredentialSource interface {
	Credential() Credential
}

// StaticCredential is a fixed CredentialSource.
type StaticCredential Credential

// Credential implements CredentialSource.
func (s StaticCredential) Credential() Credential { return Credential(s) }

// TokenService keeps the agent's outbound credential loaded from a token file
// and refreshes it periodically, so rotated secrets are picked up without a
// restart.
type TokenService struct {
	agentName     string
	tokenPath     string
	refreshPeriod time.Duration
	token         string
	mu            sync.RWMutex
	stopCh        chan struct{}
	stopOnce      sync.Once
	log           logr.Logger
}

// NewTokenService creates a TokenService reading tokenPath.
func NewTokenService(agentName, tokenPath string, log logr.Logger) *TokenService {
	return &TokenService{
		agentName:     agentName,
		tokenPath:     tokenPath,
		refreshPeriod: DefaultRefreshPeriod,
		stopCh:        make(chan struct{}),
		log:           log,
	}
}

// WithRefreshPeriod overrides the refresh interval.
func (t *TokenService) WithRefreshPeriod(d time.Duration) *TokenService {
	if d > 0 {
		t.refreshPeriod = d
	}
	return t
}

// Start loads the token and begins the refresh cycle. Unlike in-cluster
// deployments a missing token file is an error here: a session without a
// credential is refused.
func (t *TokenService) Start(ctx context.Context) error {
	if err := t.refreshToken(); err != nil {
		return adkerrors.New(adkerrors.ErrCodeAuthFailed, "failed to load initial token", err)
	}
	if t.Credential().Token == "" {
		return adkerrors.New(adkerrors.ErrCodeAuthFailed, fmt.Sprintf("token file %s is empty", t.tokenPath), nil)
	}

	ticker := time.NewTicker(t.refreshPeriod)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := t.refreshToken(); err != nil {
					t.log.Error(err, "Failed to refresh token", "path", t.tokenPath)
				}
			case <-ctx.Done():
				return
			case <-t.stopCh:
				return
			}
		}
	}()

	return nil
}

// Stop stops the token refresh cycle.
func (t *TokenService) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

func (t *TokenService) refreshToken() error {
	data, err := os.ReadFile(t.tokenPath)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.token = strings.TrimSpace(string(data))
	t.mu.Unlock()

	return nil
}

// Credential returns the current token.
func (t *TokenService) Credential() Credential {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Credential{Token: t.token}
}

// AddHeaders adds the bearer credential and agent name to an HTTP request.
func AddHeaders(req *http.Request, cred Credential, agentName string) {
	if cred.Token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", cred.Token))
	}
	if agentName != "" {
		req.Header.Set("X-Agent-Name", agentName)
	}
}

// AddHeaders adds authentication headers to an HTTP request.
func (t *TokenService) AddHeaders(req *http.Request) {
	AddHeaders(req, t.Credential(), t.agentName)
}
