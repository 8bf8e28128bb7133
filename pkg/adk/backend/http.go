package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"

	"github.com/kagent-dev/supportagent/pkg/adk/auth"
	"github.com/kagent-dev/supportagent/pkg/adk/catalog"
	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultTimeout    = 10 * time.Second
	DefaultMaxRetries = 3
)

// HTTPOptions configures an HTTPBackend.
type HTTPOptions struct {
	Client  *http.Client
	Timeout time.Duration
	// MaxRetries bounds attempts for idempotent actions. Non-idempotent
	// actions are attempted exactly once.
	MaxRetries uint
	// RetryInitialInterval is the first backoff delay.
	RetryInitialInterval time.Duration
	// RateLimit caps outgoing requests per second; zero disables limiting.
	RateLimit rate.Limit
	Burst     int
	AgentName string
	// Credentials is used when the context carries no session credential.
	Credentials auth.CredentialSource
	Logger      logr.Logger
}

// HTTPBackend executes actions by calling the CRM API. Each action maps to
// exactly one endpoint declared in its schema.
type HTTPBackend struct {
	baseURL *url.URL
	catalog *catalog.Catalog
	client  *http.Client
	opts    HTTPOptions
	limiter *rate.Limiter
	log     logr.Logger
}

// NewHTTPBackend creates a backend calling baseURL.
func NewHTTPBackend(baseURL string, cat *catalog.Catalog, opts HTTPOptions) (*HTTPBackend, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend URL %q: scheme must be http or https", baseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = 200 * time.Millisecond
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	b := &HTTPBackend{
		baseURL: u,
		catalog: cat,
		client:  client,
		opts:    opts,
		log:     opts.Logger,
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(opts.RateLimit, burst)
	}
	return b, nil
}

// errorBody is the CRM error document, {"detail": "..."}.
type errorBody struct {
	Detail string `json:"detail"`
}

// Execute implements Backend.
func (b *HTTPBackend) Execute(ctx context.Context, action string, args map[string]any, principal auth.Principal) (Payload, error) {
	schema, ok := b.catalog.Lookup(action)
	if !ok {
		return nil, &adkerrors.UnknownActionError{Name: action}
	}
	if schema.Endpoint == nil {
		return nil, fmt.Errorf("action %q has no endpoint", action)
	}

	cred, ok := auth.CredentialFromContext(ctx)
	if !ok && b.opts.Credentials != nil {
		cred = b.opts.Credentials.Credential()
	}
	if cred.Token == "" {
		return nil, &adkerrors.InvalidCredentialError{}
	}

	attempt := func() (Payload, error) {
		return b.do(ctx, schema, args, cred)
	}

	if !schema.Idempotent {
		payload, err := attempt()
		if err != nil {
			var unavailable *adkerrors.BackendUnavailableError
			if errors.As(err, &unavailable) {
				unavailable.OutcomeUnknown = true
				b.log.Info("Non-idempotent action outcome unknown", "action", action, "identity", principal.Identity, "error", err.Error())
			}
		}
		return payload, err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = b.opts.RetryInitialInterval
	payload, err := backoff.Retry(ctx, func() (Payload, error) {
		payload, err := attempt()
		if err == nil {
			return payload, nil
		}
		var unavailable *adkerrors.BackendUnavailableError
		if errors.As(err, &unavailable) {
			b.log.V(1).Info("Retrying action", "action", action, "error", err.Error())
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(b.opts.MaxRetries))
	if err != nil {
		var coded adkerrors.Coded
		if !errors.As(err, &coded) {
			// Retry gave up on the context.
			err = &adkerrors.BackendUnavailableError{Action: action, Cause: err}
		}
		return nil, err
	}
	return payload, nil
}

func (b *HTTPBackend) do(ctx context.Context, schema catalog.ActionSchema, args map[string]any, cred auth.Credential) (Payload, error) {
	unavailable := func(err error) error {
		return &adkerrors.BackendUnavailableError{Action: schema.Name, Cause: err}
	}

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, unavailable(err)
		}
	}

	req, err := b.newRequest(ctx, schema, args)
	if err != nil {
		return nil, err
	}
	auth.AddHeaders(req, cred, b.opts.AgentName)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, unavailable(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, unavailable(err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var payload Payload
		if len(bytes.TrimSpace(body)) == 0 {
			return Payload{}, nil
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, unavailable(fmt.Errorf("failed to decode response: %w", err))
		}
		return payload, nil
	}

	var eb errorBody
	_ = json.Unmarshal(body, &eb)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return nil, &adkerrors.InvalidCredentialError{}
	case http.StatusForbidden:
		scope := schema.RequiredScope
		if _, after, found := strings.Cut(eb.Detail, "Missing scope: "); found && after != "" {
			scope = strings.TrimSpace(after)
		}
		return nil, &adkerrors.AuthorizationDeniedError{Scope: scope}
	case http.StatusNotFound:
		return nil, notFound(schema, args)
	case http.StatusConflict:
		msg := eb.Detail
		if msg == "" {
			msg = fmt.Sprintf("%s conflicts with the current state", schema.Name)
		}
		return nil, &adkerrors.ConflictError{Message: msg}
	default:
		return nil, unavailable(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(eb.Detail)))
	}
}

func notFound(schema catalog.ActionSchema, args map[string]any) error {
	if schema.EntityParam == "" {
		return &adkerrors.NotFoundError{Kind: "resource", ID: schema.Name}
	}
	return &adkerrors.NotFoundError{
		Kind: strings.TrimSuffix(schema.EntityParam, "_id"),
		ID:   fmt.Sprint(args[schema.EntityParam]),
	}
}

func (b *HTTPBackend) newRequest(ctx context.Context, schema catalog.ActionSchema, args map[string]any) (*http.Request, error) {
	path := schema.Endpoint.Path
	rest := make(map[string]any, len(args))
	for k, v := range args {
		placeholder := "{" + k + "}"
		if strings.Contains(path, placeholder) {
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(fmt.Sprint(v)))
			continue
		}
		rest[k] = v
	}
	if strings.Contains(path, "{") {
		return nil, fmt.Errorf("action %q: unresolved path parameters in %s", schema.Name, path)
	}

	u := b.baseURL.JoinPath(path)
	method := strings.ToUpper(schema.Endpoint.Method)

	var body io.Reader
	switch method {
	case http.MethodGet, http.MethodDelete:
		q := u.Query()
		for k, v := range rest {
			q.Set(k, fmt.Sprint(v))
		}
		u.RawQuery = q.Encode()
	default:
		raw, err := json.Marshal(rest)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Probe checks that the backend answers its health endpoint.
func (b *HTTPBackend) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL.JoinPath("/health").String(), nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return &adkerrors.BackendUnavailableError{Action: "health", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &adkerrors.BackendUnavailableError{Action: "health", Cause: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return nil
}
