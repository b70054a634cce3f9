// Package errors provides structured error types for the state bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). Kinds fall into five families:
//
//	contract violations  double_init, not_initialized, type_mismatch, invalid_input, concurrent_use
//	sandbox faults       sandbox_fault
//	storage faults       storage_fault, absent, timeout
//	capacity             capacity
//	framing              framing
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseBridge, errors.KindTimeout).
//		Key("balance").
//		Detail("no response after %s", d).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.CapacityViolation(n, max)
//	err := errors.Absent(key)
//
// The Err* sentinels carry no Phase and match any error of their Kind:
//
//	if errors.Is(err, bridgeerrors.ErrAbsent) { ... }
package errors
