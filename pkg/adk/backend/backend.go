// Package backend executes authorized actions against the CRM, either in
// process or over HTTP, and serves the CRM API itself.
package backend

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/kagent-dev/supportagent/pkg/adk/auth"
	"github.com/kagent-dev/supportagent/pkg/adk/catalog"
	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
	"github.com/kagent-dev/supportagent/pkg/adk/tools"
)

// Payload is the structured result of an action.
type Payload = map[string]any

// Backend executes validated, authorized actions.
//
// Callers validate args against the catalog and authorize principal for the
// action's scope first. Implementations return NotFoundError,
// ConflictError, InvalidCredentialError, AuthorizationDeniedError or
// BackendUnavailableError.
type Backend interface {
	Execute(ctx context.Context, action string, args map[string]any, principal auth.Principal) (Payload, error)
}

// Func adapts a function to Backend.
type Func func(ctx context.Context, action string, args map[string]any, principal auth.Principal) (Payload, error)

// Execute implements Backend.
func (f Func) Execute(ctx context.Context, action string, args map[string]any, principal auth.Principal) (Payload, error) {
	return f(ctx, action, args, principal)
}

// LocalBackend runs the catalog's backend actions in process through a tool
// registry. It re-checks the declared scope before running a tool.
type LocalBackend struct {
	catalog *catalog.Catalog
	tools   *tools.Registry
	log     logr.Logger
}

// NewLocalBackend creates a LocalBackend.
func NewLocalBackend(cat *catalog.Catalog, registry *tools.Registry, log logr.Logger) *LocalBackend {
	return &LocalBackend{catalog: cat, tools: registry, log: log}
}

// NewDefaultLocalBackend wires the CRM tools over store.
func NewDefaultLocalBackend(cat *catalog.Catalog, store *tools.OrderStore, log logr.Logger) (*LocalBackend, error) {
	registry, err := tools.NewRegistry(tools.CRMTools(store)...)
	if err != nil {
		return nil, err
	}
	return NewLocalBackend(cat, registry, log), nil
}

// Execute implements Backend.
func (b *LocalBackend) Execute(ctx context.Context, action string, args map[string]any, principal auth.Principal) (Payload, error) {
	schema, ok := b.catalog.Lookup(action)
	if !ok {
		return nil, &adkerrors.UnknownActionError{Name: action}
	}
	if d := auth.Authorize(b.log, principal, schema.RequiredScope); !d.Allowed {
		return nil, d.Err()
	}

	tool, ok := b.tools.Get(action)
	if !ok {
		return nil, &adkerrors.UnknownActionError{Name: action}
	}

	if err := ctx.Err(); err != nil {
		return nil, &adkerrors.BackendUnavailableError{Action: action, Cause: err}
	}

	b.log.V(1).Info("Executing action", "action", action, "identity", principal.Identity)
	return tool.Run(ctx, args, &tools.Context{Principal: principal})
}
