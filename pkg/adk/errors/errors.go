package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// AppError represents an application-level error with a code and optional cause
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Infrastructure error codes
const (
	ErrCodeSessionCreate   = "SESSION_CREATE_FAILED"
	ErrCodeSessionGet      = "SESSION_GET_FAILED"
	ErrCodeSessionDelete   = "SESSION_DELETE_FAILED"
	ErrCodeAgentConfig     = "AGENT_CONFIG_INVALID"
	ErrCodeExecutorFailed  = "EXECUTOR_FAILED"
	ErrCodeEngineFailed    = "ENGINE_FAILED"
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeAuthFailed      = "AUTH_FAILED"
	ErrCodeKnowledgeIngest = "KNOWLEDGE_INGEST_FAILED"
)

// Domain error codes. These are surfaced to the reasoning engine verbatim.
const (
	ErrCodeDuplicateName          = "DUPLICATE_NAME"
	ErrCodeInvalidSchema          = "INVALID_SCHEMA"
	ErrCodeUnknownAction          = "UNKNOWN_ACTION"
	ErrCodeMissingParameter       = "MISSING_PARAMETER"
	ErrCodeTypeMismatch           = "TYPE_MISMATCH"
	ErrCodeConstraintViolation    = "CONSTRAINT_VIOLATION"
	ErrCodeInvalidCredential      = "INVALID_CREDENTIAL"
	ErrCodeAuthorizationDenied    = "AUTHORIZATION_DENIED"
	ErrCodeNotFound               = "NOT_FOUND"
	ErrCodeConflict               = "CONFLICT"
	ErrCodeBackendUnavailable     = "BACKEND_UNAVAILABLE"
	ErrCodeStoreUnavailable       = "STORE_UNAVAILABLE"
	ErrCodePolicyGateNotSatisfied = "POLICY_GATE_NOT_SATISFIED"
	ErrCodeUnparseableRequest     = "UNPARSEABLE_REQUEST"
	ErrCodeInternal               = "INTERNAL"
)

// Category groups error codes by how the orchestrator recovers from them.
type Category string

const (
	CategoryInput         Category = "input"
	CategoryAuthorization Category = "authorization"
	CategoryPolicy        Category = "policy"
	CategoryUnavailable   Category = "unavailable"
	CategoryProtocol      Category = "protocol"
	CategoryBackend       Category = "backend"
	CategoryInternal      Category = "internal"
)

// CategoryOf maps an error code to its category.
func CategoryOf(code string) Category {
	switch code {
	case ErrCodeUnknownAction, ErrCodeMissingParameter, ErrCodeTypeMismatch, ErrCodeConstraintViolation:
		return CategoryInput
	case ErrCodeInvalidCredential, ErrCodeAuthorizationDenied:
		return CategoryAuthorization
	case ErrCodePolicyGateNotSatisfied:
		return CategoryPolicy
	case ErrCodeBackendUnavailable, ErrCodeStoreUnavailable:
		return CategoryUnavailable
	case ErrCodeUnparseableRequest:
		return CategoryProtocol
	case ErrCodeNotFound, ErrCodeConflict:
		return CategoryBackend
	default:
		return CategoryInternal
	}
}

// Coded is implemented by every domain error.
type Coded interface {
	error
	Code() string
}

// CodeOf returns the code of the first coded error in err's chain.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var coded Coded
	if stderrors.As(err, &coded) {
		return coded.Code()
	}
	var app *AppError
	if stderrors.As(err, &app) {
		return app.Code
	}
	return ErrCodeInternal
}

// DuplicateNameError is returned when a catalog already holds an action name.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("action %q is already registered", e.Name)
}

func (e *DuplicateNameError) Code() string { return ErrCodeDuplicateName }

// InvalidSchemaError is returned when an action schema is malformed.
type InvalidSchemaError struct {
	Name   string
	Reason string
}

func (e *InvalidSchemaError) Error() string {
	return fmt.Sprintf("invalid schema for action %q: %s", e.Name, e.Reason)
}

func (e *InvalidSchemaError) Code() string { return ErrCodeInvalidSchema }

// UnknownActionError is returned when no schema exists for an action name.
type UnknownActionError struct {
	Name string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.Name)
}

func (e *UnknownActionError) Code() string { return ErrCodeUnknownAction }

// MissingParameterError lists every absent required parameter.
type MissingParameterError struct {
	Action     string
	Parameters []string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("action %q is missing required parameters: %s", e.Action, strings.Join(e.Parameters, ", "))
}

func (e *MissingParameterError) Code() string { return ErrCodeMissingParameter }

// TypeMismatchError names the first parameter whose value cannot be coerced.
type TypeMismatchError struct {
	Action    string
	Parameter string
	Expected  string
	Got       string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("action %q parameter %q: expected %s, got %s", e.Action, e.Parameter, e.Expected, e.Got)
}

func (e *TypeMismatchError) Code() string { return ErrCodeTypeMismatch }

// ConstraintViolationError is returned when a coerced value violates an enum or pattern.
type ConstraintViolationError struct {
	Action string
	Detail string
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("action %q arguments violate constraints: %s", e.Action, e.Detail)
}

func (e *ConstraintViolationError) Code() string { return ErrCodeConstraintViolation }

// InvalidCredentialError is returned when a credential does not resolve.
// It carries no hint about which credentials exist.
type InvalidCredentialError struct{}

func (e *InvalidCredentialError) Error() string { return "invalid authentication credential" }

func (e *InvalidCredentialError) Code() string { return ErrCodeInvalidCredential }

// AuthorizationDeniedError reports a missing scope.
type AuthorizationDeniedError struct {
	Scope string
}

func (e *AuthorizationDeniedError) Error() string {
	return fmt.Sprintf("Not Authorized. Missing scope: %s", e.Scope)
}

func (e *AuthorizationDeniedError) Code() string { return ErrCodeAuthorizationDenied }

// NotFoundError is returned when a referenced entity does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("%s not found", e.ID)
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Code() string { return ErrCodeNotFound }

// ConflictError is returned when the backend rejects a mutation of the current entity state.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Code() string { return ErrCodeConflict }

// BackendUnavailableError wraps a transport failure to the action backend.
type BackendUnavailableError struct {
	Action string
	// OutcomeUnknown is set for non-idempotent actions whose effect may have
	// been applied before the failure was observed.
	OutcomeUnknown bool
	Cause          error
}

func (e *BackendUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("backend unavailable for %q: %v", e.Action, e.Cause)
	}
	return fmt.Sprintf("backend unavailable for %q", e.Action)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Cause }

func (e *BackendUnavailableError) Code() string { return ErrCodeBackendUnavailable }

// StoreUnavailableError wraps a failure to reach the policy knowledge index.
type StoreUnavailableError struct {
	Cause error
}

func (e *StoreUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("policy knowledge store unavailable: %v", e.Cause)
	}
	return "policy knowledge store unavailable"
}

func (e *StoreUnavailableError) Unwrap() error { return e.Cause }

func (e *StoreUnavailableError) Code() string { return ErrCodeStoreUnavailable }

// UnparseableRequestError reports an engine action request that could not be decoded.
type UnparseableRequestError struct {
	Name   string
	Reason string
}

func (e *UnparseableRequestError) Error() string {
	return fmt.Sprintf("could not parse request for %q: %s", e.Name, e.Reason)
}

func (e *UnparseableRequestError) Code() string { return ErrCodeUnparseableRequest }

// Descriptor is the LLM-legible rendering of an error.
type Descriptor struct {
	Code     string         `json:"code"`
	Category Category       `json:"category"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
}

// Detailed is implemented by errors that carry structured details for the engine.
type Detailed interface {
	Details() map[string]any
}

// Describe converts err into a Descriptor.
func Describe(err error) Descriptor {
	code := CodeOf(err)
	d := Descriptor{
		Code:     code,
		Category: CategoryOf(code),
		Message:  err.Error(),
	}
	var detailed Detailed
	if stderrors.As(err, &detailed) {
		d.Details = detailed.Details()
	}
	var missing *MissingParameterError
	if stderrors.As(err, &missing) {
		d.Details = map[string]any{"parameters": missing.Parameters}
	}
	var mismatch *TypeMismatchError
	if stderrors.As(err, &mismatch) {
		d.Details = map[string]any{"parameter": mismatch.Parameter, "expected": mismatch.Expected}
	}
	var unavailable *BackendUnavailableError
	if stderrors.As(err, &unavailable) && unavailable.OutcomeUnknown {
		d.Details = map[string]any{"outcome_unknown": true}
	}
	return d
}
