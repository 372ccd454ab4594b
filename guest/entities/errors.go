package entities

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the closed error taxonomy.
// Every typed error below matches exactly one of them through errors.Is.
var (
	// ErrDuplicateID is returned when a guest id is registered twice.
	ErrDuplicateID = errors.New("duplicate guest id")

	// ErrGuestNotFound is returned when a registry lookup misses.
	ErrGuestNotFound = errors.New("guest not found")

	// ErrNoMatch is returned when no guest detects the target.
	ErrNoMatch = errors.New("no guest matches target")

	// ErrAmbiguousMatch is returned when unrelated guests detect the same target.
	ErrAmbiguousMatch = errors.New("ambiguous guest match")

	// ErrCapabilityNotFound is returned when no guest in the parent chain declares a capability.
	ErrCapabilityNotFound = errors.New("capability not found")

	// ErrUnknownParent is returned when a declared parent is not registered.
	ErrUnknownParent = errors.New("unknown parent guest")

	// ErrCycleDetected is returned when a parent chain loops.
	ErrCycleDetected = errors.New("parent cycle detected")

	// ErrInvocationFailed is returned when a guest's own implementation fails.
	ErrInvocationFailed = errors.New("guest invocation failed")

	// ErrTimeout is returned when a guest call outlives its context.
	// The outcome of the guest operation is unknown.
	ErrTimeout = errors.New("guest call timed out")

	// ErrTransport is returned when the boundary to a guest fails.
	ErrTransport = errors.New("guest transport error")
)

// ErrorKind classifies an error into the closed taxonomy.
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindDuplicateID      ErrorKind = "duplicate_id"
	KindGuestNotFound    ErrorKind = "guest_not_found"
	KindNoMatch          ErrorKind = "no_match"
	KindAmbiguousMatch   ErrorKind = "ambiguous_match"
	KindNotFound         ErrorKind = "not_found"
	KindUnknownParent    ErrorKind = "unknown_parent"
	KindCycleDetected    ErrorKind = "cycle_detected"
	KindInvocationFailed ErrorKind = "invocation_failed"
	KindTimeout          ErrorKind = "timeout"
	KindTransport        ErrorKind = "transport"
	KindUnknown          ErrorKind = "unknown"
)

var kindOrder = []struct {
	sentinel error
	kind     ErrorKind
}{
	{ErrDuplicateID, KindDuplicateID},
	{ErrGuestNotFound, KindGuestNotFound},
	{ErrNoMatch, KindNoMatch},
	{ErrAmbiguousMatch, KindAmbiguousMatch},
	{ErrCapabilityNotFound, KindNotFound},
	{ErrUnknownParent, KindUnknownParent},
	{ErrCycleDetected, KindCycleDetected},
	{ErrTimeout, KindTimeout},
	{ErrTransport, KindTransport},
	{ErrInvocationFailed, KindInvocationFailed},
}

// Kind returns the taxonomy kind of err, KindNone for nil and KindUnknown
// for errors outside the taxonomy. When taxonomy errors are nested, the
// outermost one decides.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if k, ok := ownKind(e); ok {
			return k
		}
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.sentinel) {
			return k.kind
		}
	}
	return KindUnknown
}

// ownKind matches err itself, without following its wrap chain.
func ownKind(err error) (ErrorKind, bool) {
	m, _ := err.(interface{ Is(error) bool })
	for _, k := range kindOrder {
		if err == k.sentinel || (m != nil && m.Is(k.sentinel)) {
			return k.kind, true
		}
	}
	return "", false
}

// DuplicateIDError indicates a registration conflict.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("guest %q already registered", e.ID)
}

// Is implements error matching for errors.Is() checks.
func (e *DuplicateIDError) Is(target error) bool {
	return target == ErrDuplicateID
}

// GuestNotFoundError indicates a lookup for an unregistered id.
type GuestNotFoundError struct {
	ID string
}

func (e *GuestNotFoundError) Error() string {
	return fmt.Sprintf("guest not found: %s", e.ID)
}

// Is implements error matching for errors.Is() checks.
func (e *GuestNotFoundError) Is(target error) bool {
	return target == ErrGuestNotFound
}

// NoMatchError indicates that no registered guest detected the target.
type NoMatchError struct {
	Target string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no guest matches target %q", e.Target)
}

// Is implements error matching for errors.Is() checks.
func (e *NoMatchError) Is(target error) bool {
	return target == ErrNoMatch
}

// AmbiguousMatchError lists the unrelated guests that all detected the target.
// Candidates are in registration order.
type AmbiguousMatchError struct {
	Target     string
	Candidates []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous guest match for target %q: %s", e.Target, strings.Join(e.Candidates, ", "))
}

// Is implements error matching for errors.Is() checks.
func (e *AmbiguousMatchError) Is(target error) bool {
	return target == ErrAmbiguousMatch
}

// CapabilityNotFoundError indicates that nobody in the parent chain implements a capability.
type CapabilityNotFoundError struct {
	Guest      string
	Capability string
	Chain      []string
}

func (e *CapabilityNotFoundError) Error() string {
	return fmt.Sprintf("capability %q not found for guest %q (searched %s)",
		e.Capability, e.Guest, strings.Join(e.Chain, " -> "))
}

// Is implements error matching for errors.Is() checks.
func (e *CapabilityNotFoundError) Is(target error) bool {
	return target == ErrCapabilityNotFound
}

// UnknownParentError indicates a parent name that does not resolve in the registry.
type UnknownParentError struct {
	Guest  string
	Parent string
}

func (e *UnknownParentError) Error() string {
	return fmt.Sprintf("guest %q declares unknown parent %q", e.Guest, e.Parent)
}

// Is implements error matching for errors.Is() checks.
func (e *UnknownParentError) Is(target error) bool {
	return target == ErrUnknownParent
}

// CycleError reports a looping parent chain. The first repeated id closes Chain.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("parent cycle detected: %s", strings.Join(e.Chain, " -> "))
}

// Is implements error matching for errors.Is() checks.
func (e *CycleError) Is(target error) bool {
	return target == ErrCycleDetected
}

// InvocationError wraps a failure returned by a guest's own implementation.
type InvocationError struct {
	Guest      string
	Operation  string
	Capability string
	Err        error
}

func (e *InvocationError) Error() string {
	if e.Capability != "" {
		return fmt.Sprintf("guest %q %s %q failed: %v", e.Guest, e.Operation, e.Capability, e.Err)
	}
	return fmt.Sprintf("guest %q %s failed: %v", e.Guest, e.Operation, e.Err)
}

// Is implements error matching for errors.Is() checks.
func (e *InvocationError) Is(target error) bool {
	return target == ErrInvocationFailed
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// TimeoutError reports a guest call abandoned because its context ended.
// Callers must not assume the guest's side effects did or did not happen.
type TimeoutError struct {
	Guest     string
	Operation string
	Err       error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("guest %q %s timed out: %v", e.Guest, e.Operation, e.Err)
}

// Is implements error matching for errors.Is() checks.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// TransportError reports a failure of the boundary itself: a disconnected
// peer, an ABI or serialization mismatch.
type TransportError struct {
	Guest     string
	Operation string
	Err       error
}

func (e *TransportError) Error() string {
	if e.Guest == "" {
		return fmt.Sprintf("transport error during %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("guest %q transport error during %s: %v", e.Guest, e.Operation, e.Err)
}

// Is implements error matching for errors.Is() checks.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError marks err as a boundary failure.
func NewTransportError(guest, operation string, err error) error {
	return &TransportError{Guest: guest, Operation: operation, Err: err}
}
