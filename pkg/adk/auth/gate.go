package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"slices"
	"strings"

	"github.com/go-logr/logr"

	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
)

// Credential is an opaque bearer token presented by a caller.
type Credential struct {
	Token string
}

// ParseBearer extracts the credential from an Authorization header value.
func ParseBearer(header string) (Credential, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return Credential{}, false
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return Credential{}, false
	}
	return Credential{Token: token}, true
}

// Principal is a resolved caller identity with its granted scopes.
type Principal struct {
	Identity string   `json:"identity"`
	Scopes   []string `json:"scopes"`
}

// HasScope reports whether scope was granted.
func (p Principal) HasScope(scope string) bool {
	return slices.Contains(p.Scopes, scope)
}

// Resolver turns a credential into a principal. Unknown credentials fail with
// InvalidCredentialError.
type Resolver interface {
	Resolve(ctx context.Context, cred Credential) (Principal, error)
}

// Decision is the outcome of an authorization check. A denial is a normal
// result, not an error.
type Decision struct {
	Allowed bool
	// Missing is the scope the principal lacked when Allowed is false.
	Missing string
}

// Err converts a denial into an AuthorizationDeniedError, nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &adkerrors.AuthorizationDeniedError{Scope: d.Missing}
}

// Grant is one entry of a credential table.
type Grant struct {
	Token    string   `json:"token" yaml:"token" mapstructure:"token"`
	Identity string   `json:"identity" yaml:"identity" mapstructure:"identity"`
	Scopes   []string `json:"scopes" yaml:"scopes" mapstructure:"scopes"`
}

type tableEntry struct {
	digest    [sha256.Size]byte
	principal Principal
}

// Gate is the authorization gate. It owns a fixed credential table and
// mutates nothing else; it is safe for concurrent use.
type Gate struct {
	entries []tableEntry
	log     logr.Logger
}

// NewGate builds a gate from an explicit credential table.
func NewGate(grants []Grant, log logr.Logger) *Gate {
	entries := make([]tableEntry, 0, len(grants))
	for _, g := range grants {
		entries = append(entries, tableEntry{
			digest: sha256.Sum256([]byte(g.Token)),
			principal: Principal{
				Identity: g.Identity,
				Scopes:   append([]string(nil), g.Scopes...),
			},
		})
	}
	return &Gate{entries: entries, log: log}
}

// Resolve looks the credential up in the table. Every entry is compared in
// constant time and the scan never exits early, so response timing does not
// reveal how close a guess was.
func (g *Gate) Resolve(_ context.Context, cred Credential) (Principal, error) {
	digest := sha256.Sum256([]byte(cred.Token))

	match := -1
	for i := range g.entries {
		if subtle.ConstantTimeCompare(digest[:], g.entries[i].digest[:]) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 || cred.Token == "" {
		return Principal{}, &adkerrors.InvalidCredentialError{}
	}

	p := g.entries[match].principal
	return Principal{Identity: p.Identity, Scopes: append([]string(nil), p.Scopes...)}, nil
}

// Authorize checks that principal holds requiredScope. An empty scope is
// always allowed.
func (g *Gate) Authorize(principal Principal, requiredScope string) Decision {
	return authorize(g.log, principal, requiredScope)
}

// Authorize checks a principal without a gate, logging to log.
func Authorize(log logr.Logger, principal Principal, requiredScope string) Decision {
	return authorize(log, principal, requiredScope)
}

func authorize(log logr.Logger, principal Principal, requiredScope string) Decision {
	if requiredScope == "" || principal.HasScope(requiredScope) {
		log.V(1).Info("Authorization accepted", "identity", principal.Identity, "scope", requiredScope)
		return Decision{Allowed: true}
	}
	log.Info("Authorization denied", "identity", principal.Identity, "missingScope", requiredScope)
	return Decision{Allowed: false, Missing: requiredScope}
}
