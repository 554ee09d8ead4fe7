// Package exception provides the error types and sentinel errors of the risk batch writer.
// Every failure crossing a component boundary is a *BatchError naming the module it came from,
// and the well-known failure kinds are registered sentinels that callers match with errors.Is.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// Names of the registered sentinel errors.
const (
	ConsistencyViolation     = "ConsistencyViolation"
	ConfigurationMismatch    = "ConfigurationMismatch"
	RunNotFound              = "RunNotFound"
	DimensionUnresolvable    = "DimensionUnresolvable"
	OptimisticLockingFailure = "OptimisticLockingFailure"
	InvalidArgument          = "InvalidArgument"
)

var (
	// ErrConsistencyViolation reports a store whose state disagrees with an invariant the writer relies on,
	// such as an update that touched fewer rows than requested.
	ErrConsistencyViolation = errors.New(ConsistencyViolation)
	// ErrConfigurationMismatch reports a restarted run whose stored parameters differ from the requested ones.
	ErrConfigurationMismatch = errors.New(ConfigurationMismatch)
	// ErrRunNotFound reports an operation on a run id that does not exist.
	ErrRunNotFound = errors.New(RunNotFound)
	// ErrDimensionUnresolvable reports a dimension value that could be neither inserted nor selected.
	ErrDimensionUnresolvable = errors.New(DimensionUnresolvable)
	// ErrOptimisticLockingFailure reports a versioned row changed by someone else.
	ErrOptimisticLockingFailure = errors.New(OptimisticLockingFailure)
	// ErrInvalidArgument reports a caller error such as an unknown creation mode.
	ErrInvalidArgument = errors.New(InvalidArgument)
)

var (
	errorRegistry = make(map[string]error)
	registryMutex sync.RWMutex
)

// RegisterErrorType maps a name to a sentinel error so IsErrorOfType can match it with errors.Is.
// It panics on an empty name or nil prototype.
func RegisterErrorType(name string, prototype error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("Error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("Cannot register nil prototype for name: %s", name))
	}
	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered checks if the specified error type name is registered in the registry.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

func init() {
	RegisterErrorType(ConsistencyViolation, ErrConsistencyViolation)
	RegisterErrorType(ConfigurationMismatch, ErrConfigurationMismatch)
	RegisterErrorType(RunNotFound, ErrRunNotFound)
	RegisterErrorType(DimensionUnresolvable, ErrDimensionUnresolvable)
	RegisterErrorType(OptimisticLockingFailure, ErrOptimisticLockingFailure)
	RegisterErrorType(InvalidArgument, ErrInvalidArgument)

	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
	RegisterErrorType("sql.ErrNoRows", sql.ErrNoRows)
}

// BatchError is the error type returned by the writer's components.
// It holds the module where the error occurred, a message, the wrapped original error,
// and flags indicating whether the failed operation may be retried or skipped.
type BatchError struct {
	// Module indicates where the error occurred (e.g. "dimension", "status", "writer", "lifecycle").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	isRetryable bool
	isSkippable bool
	// StackTrace is the goroutine stack at construction time.
	StackTrace string
}

func captureStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// NewBatchError creates a new BatchError instance.
func NewBatchError(module, message string, originalErr error, isSkippable, isRetryable bool) *BatchError {
	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  captureStack(),
	}
}

// NewBatchErrorf creates a new BatchError using a format string.
// Trailing arguments are peeled off in the order [originalErr error], [isRetryable bool], [isSkippable bool];
// the rest are passed to fmt.Sprintf.
//
//	NewBatchErrorf("status", "update of %d rows failed", n, err)
//	NewBatchErrorf("dimension", "insert of %q failed", v, true, err) // retryable
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	var originalErr error
	isRetryable := false
	isSkippable := false
	args := a

	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isRetryable = b
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isSkippable = b
			args = args[:len(args)-1]
		}
	}

	return &BatchError{
		Module:      module,
		Message:     fmt.Sprintf(format, args...),
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  captureStack(),
	}
}

// joinSentinel wraps sentinel together with cause when cause is present.
func joinSentinel(sentinel, cause error) error {
	if cause != nil {
		return errors.Join(sentinel, cause)
	}
	return sentinel
}

// NewConsistencyViolation creates a fatal BatchError wrapping ErrConsistencyViolation.
func NewConsistencyViolation(module, message string, originalErr error) *BatchError {
	return NewBatchError(module, message, joinSentinel(ErrConsistencyViolation, originalErr), false, false)
}

// NewConfigurationMismatch creates a fatal BatchError wrapping ErrConfigurationMismatch.
func NewConfigurationMismatch(module, message string) *BatchError {
	return NewBatchError(module, message, ErrConfigurationMismatch, false, false)
}

// NewRunNotFound creates a BatchError wrapping ErrRunNotFound for the given run id.
func NewRunNotFound(module string, runID int64) *BatchError {
	return NewBatchError(module, fmt.Sprintf("run %d does not exist", runID), ErrRunNotFound, false, false)
}

// NewRunIdentityNotFound creates a BatchError wrapping ErrRunNotFound for a run looked up by identity.
func NewRunIdentityNotFound(module, identity string) *BatchError {
	return NewBatchError(module, fmt.Sprintf("no run exists for %s", identity), ErrRunNotFound, false, false)
}

// NewDimensionUnresolvable creates a retryable BatchError wrapping ErrDimensionUnresolvable.
// A later attempt in a fresh transaction may observe the row a concurrent writer committed.
func NewDimensionUnresolvable(module, message string, originalErr error) *BatchError {
	return NewBatchError(module, message, joinSentinel(ErrDimensionUnresolvable, originalErr), false, true)
}

// NewOptimisticLockingFailureException creates a fatal BatchError wrapping ErrOptimisticLockingFailure.
func NewOptimisticLockingFailureException(module, message string, originalErr error) *BatchError {
	return NewBatchError(module, message, joinSentinel(ErrOptimisticLockingFailure, originalErr), false, false)
}

// NewInvalidArgument creates a fatal BatchError wrapping ErrInvalidArgument.
func NewInvalidArgument(module, message string) *BatchError {
	return NewBatchError(module, message, ErrInvalidArgument, false, false)
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is retryable.
func (e *BatchError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable returns whether this error is skippable.
func (e *BatchError) IsSkippable() bool {
	return e.isSkippable
}

// IsBatchError determines if err is, or wraps, a *BatchError.
func IsBatchError(err error) bool {
	var be *BatchError
	return errors.As(err, &be)
}

// IsTemporary determines if an error is worth retrying.
// The IsRetryable flag of a wrapped BatchError takes precedence over message sniffing.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.IsRetryable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "deadlock")
}

// IsFatal determines if an error is neither retryable nor skippable.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var be *BatchError
	if errors.As(err, &be) {
		return !be.IsRetryable() && !be.IsSkippable()
	}
	return !IsTemporary(err)
}

// IsErrorOfType checks if an error matches a registered sentinel name, a type name
// (e.g. "*exception.BatchError") or a substring of any message in the chain.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil {
		return false
	}

	registryMutex.RLock()
	targetError, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()
	if ok && errors.Is(err, targetError) {
		return true
	}

	for currentErr := err; currentErr != nil; currentErr = errors.Unwrap(currentErr) {
		if strings.Contains(currentErr.Error(), errorTypeName) {
			return true
		}
		errType := reflect.TypeOf(currentErr)
		if errType != nil {
			if errType.String() == errorTypeName || (errType.Kind() == reflect.Ptr && errType.Elem().String() == errorTypeName) {
				return true
			}
		}
	}
	return false
}

// IsOptimisticLockingFailure determines if an error indicates an optimistic locking failure.
func IsOptimisticLockingFailure(err error) bool {
	return err != nil && errors.Is(err, ErrOptimisticLockingFailure)
}

// ExtractErrorMessage returns the Message of a BatchError, or Error() for anything else.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}
