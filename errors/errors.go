package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad     Phase = "load"     // module loading and instantiation
	PhaseInvoke   Phase = "invoke"   // export invocation
	PhaseBridge   Phase = "bridge"   // state_get / state_set round trips
	PhaseChannel  Phase = "channel"  // shared channel operations
	PhaseStore    Phase = "store"    // persistent store access
	PhaseFraming  Phase = "framing"  // framed argument blocks
	PhaseDispatch Phase = "dispatch" // controller/host action dispatch
	PhaseHost     Phase = "host"     // host function registration
	PhaseConfig   Phase = "config"   // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	// Contract violations
	KindDoubleInit     Kind = "double_init"
	KindNotInitialized Kind = "not_initialized"
	KindTypeMismatch   Kind = "type_mismatch"
	KindInvalidInput   Kind = "invalid_input"
	KindConcurrentUse  Kind = "concurrent_use"
	KindNotFound       Kind = "not_found"
	KindOutOfBounds    Kind = "out_of_bounds"

	// Faults raised while the guest runs
	KindSandboxFault Kind = "sandbox_fault"

	// Store and bridge faults
	KindStorageFault Kind = "storage_fault"
	KindAbsent       Kind = "absent"
	KindTimeout      Kind = "timeout"
	KindCapacity     Kind = "capacity"
	KindFraming      Kind = "framing"

	KindMissingImport Kind = "missing_import"
	KindRegistration  Kind = "registration"
	KindInstantiation Kind = "instantiation"
)

// Sentinels for use with the standard errors.Is. A sentinel without a Phase
// matches any error of the same Kind.
var (
	ErrDoubleInit     = &Error{Kind: KindDoubleInit}
	ErrNotInitialized = &Error{Kind: KindNotInitialized}
	ErrTypeMismatch   = &Error{Kind: KindTypeMismatch}
	ErrInvalidInput   = &Error{Kind: KindInvalidInput}
	ErrConcurrentUse  = &Error{Kind: KindConcurrentUse}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrSandboxFault   = &Error{Kind: KindSandboxFault}
	ErrStorageFault   = &Error{Kind: KindStorageFault}
	ErrAbsent         = &Error{Kind: KindAbsent}
	ErrTimeout        = &Error{Kind: KindTimeout}
	ErrCapacity       = &Error{Kind: KindCapacity}
	ErrFraming        = &Error{Kind: KindFraming}
	ErrMissingImport  = &Error{Kind: KindMissingImport}
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	GoType string
	Key    string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Key != "" {
		b.WriteString(" key ")
		b.WriteString(fmt.Sprintf("%q", e.Key))
	}

	if e.GoType != "" {
		b.WriteString(": Go type ")
		b.WriteString(e.GoType)
	}

	if e.Detail != "" {
		if e.GoType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// An empty Phase on the target matches any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Phase == "" || t.Phase == e.Phase
}

// IsContractViolation reports whether err is a caller-side contract violation
// (double init, use before init, wrong argument type, concurrent use).
func IsContractViolation(err error) bool {
	var e *Error
	if !stderrors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindDoubleInit, KindNotInitialized, KindTypeMismatch, KindInvalidInput, KindConcurrentUse:
		return true
	}
	return false
}

// KindOf returns the Kind of the first *Error in err's chain, or "" when
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if !stderrors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// Key sets the state key involved
func (b *Builder) Key(k string) *Builder {
	b.err.Key = k
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Contract violations

// DoubleInit creates an error for a second Init on the same object
func DoubleInit(what string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindDoubleInit,
		Detail: fmt.Sprintf("%s double initialization", what),
	}
}

// NotInitialized creates a use-before-init error
func NotInitialized(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("attempt to use uninitialized %s", what),
	}
}

// TypeError creates a wrong-argument-type error
func TypeError(phase Phase, path []string, goType, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		GoType: goType,
		Detail: detail,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// ConcurrentUse creates an error for a violated single-user invariant
func ConcurrentUse(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindConcurrentUse,
		Detail: fmt.Sprintf("concurrent use of %s", what),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// OutOfBounds creates a guest memory access error
func OutOfBounds(phase Phase, offset, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("memory range [%d, %d) out of bounds", offset, uint64(offset)+uint64(length)),
		Value:  offset,
	}
}

// Faults

// SandboxFault wraps an error raised while guest code was executing.
// detail carries the sandbox's own error text.
func SandboxFault(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindSandboxFault,
		Detail: detail,
		Cause:  cause,
	}
}

// StorageFault creates a persistent store failure
func StorageFault(key, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseStore,
		Kind:   KindStorageFault,
		Key:    key,
		Detail: detail,
		Cause:  cause,
	}
}

// Absent creates a key-absent error
func Absent(key string) *Error {
	return &Error{
		Phase:  PhaseStore,
		Kind:   KindAbsent,
		Key:    key,
		Detail: "no value stored",
	}
}

// Timeout creates a timeout or cancellation error
func Timeout(phase Phase, what string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTimeout,
		Detail: fmt.Sprintf("%s did not complete", what),
		Cause:  cause,
	}
}

// CapacityViolation creates a payload-too-large error
func CapacityViolation(length, max int) *Error {
	return &Error{
		Phase:  PhaseChannel,
		Kind:   KindCapacity,
		Detail: fmt.Sprintf("payload of %d bytes exceeds channel capacity of %d bytes", length, max),
		Value:  length,
	}
}

// Framing creates a malformed framed block error
func Framing(offset int, detail string) *Error {
	return &Error{
		Phase:  PhaseFraming,
		Kind:   KindFraming,
		Detail: fmt.Sprintf("at offset %d: %s", offset, detail),
		Value:  offset,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Registration creates a registration error
func Registration(namespace, name string, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s#%s", namespace, name),
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingImport is one unresolved guest import.
type MissingImport struct {
	Module   string // e.g., "env"
	Function string // e.g., "state_get"
}

func (m MissingImport) String() string {
	if m.Function == "" {
		return m.Module
	}
	return m.Module + "." + m.Function
}

// MissingImportsError is returned when a guest imports functions the host
// does not provide. It unwraps to a load-phase *Error of KindMissingImport.
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from "module#function" keys.
func NewMissingImportsError(imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		mod, fn, _ := strings.Cut(imp, "#")
		result.Imports = append(result.Imports, MissingImport{
			Module:   mod,
			Function: fn,
		})
	}
	return result
}

func (e *MissingImportsError) Error() string {
	return e.Unwrap().Error()
}

// Unwrap returns the structured form of e.
func (e *MissingImportsError) Unwrap() error {
	detail := "no imports specified"
	if len(e.Imports) > 0 {
		names := make([]string, len(e.Imports))
		for i, imp := range e.Imports {
			names[i] = imp.String()
		}
		detail = fmt.Sprintf("host does not provide %s", strings.Join(names, ", "))
	}
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindMissingImport,
		Detail: detail,
	}
}

// Is reports whether target is a *MissingImportsError.
func (e *MissingImportsError) Is(target error) bool {
	_, ok := target.(*MissingImportsError)
	return ok
}
