// Package dfserrors provides the structured error system used across the
// directory service and storage node: error codes, categories, and the
// contextual metadata needed to decide retry and client-surfacing behavior.
package dfserrors

import (
	"fmt"
	"strings"
	"time"
)

// Code identifies a specific failure condition.
type Code string

// Error codes grouped by the taxonomy in the core spec's error-handling design.
const (
	// Protocol errors: malformed or oversize wire traffic.
	CodeShortRead        Code = "SHORT_READ"
	CodeUnexpectedType   Code = "UNEXPECTED_MESSAGE_TYPE"
	CodeOversizePayload  Code = "OVERSIZE_PAYLOAD"
	CodeMalformedPayload Code = "MALFORMED_PAYLOAD"

	// Access errors.
	CodeNoPermission  Code = "NO_PERMISSION"
	CodeNotOwner      Code = "NOT_OWNER"
	CodeAuthRequired  Code = "AUTH_REQUIRED"
	CodeBadCredential Code = "BAD_CREDENTIAL"

	// Not-found errors.
	CodeFileNotFound Code = "FILE_NOT_FOUND"
	CodeSNNotFound   Code = "SN_NOT_FOUND"
	CodeUserNotFound Code = "USER_NOT_FOUND"

	// Conflict errors.
	CodeFileExists        Code = "FILE_EXISTS"
	CodeCheckpointExists  Code = "CHECKPOINT_EXISTS"
	CodeSentenceLocked    Code = "SENTENCE_LOCKED"
	CodeWriteInProgress   Code = "WRITE_IN_PROGRESS"
	CodeFolderExists      Code = "FOLDER_EXISTS"

	// Edit-bounds errors.
	CodeBadSentenceIndex Code = "BAD_SENTENCE_INDEX"
	CodeBadWordIndex     Code = "BAD_WORD_INDEX"

	// Storage failures.
	CodeIOFailure        Code = "IO_FAILURE"
	CodeNoUndoImage      Code = "NO_UNDO_IMAGE"
	CodeCheckpointMissing Code = "CHECKPOINT_MISSING"

	// Replication failures (never surfaced to clients; logged only).
	CodeReplicationFailed Code = "REPLICATION_FAILED"

	// Peer-unavailable.
	CodePeerOffline   Code = "PEER_OFFLINE"
	CodeRetryLater    Code = "RETRY_LATER"

	// Fatal/startup errors.
	CodeListenFailed    Code = "LISTEN_FAILED"
	CodeStorageInitFail Code = "STORAGE_INIT_FAILED"
	CodePersistFailed   Code = "PERSIST_FAILED"

	// Internal catch-all.
	CodeInternal Code = "INTERNAL_ERROR"
)

// Category buckets codes for metrics labeling and coarse handling decisions.
type Category string

const (
	CategoryProtocol      Category = "protocol"
	CategoryAccess        Category = "access"
	CategoryNotFound      Category = "not_found"
	CategoryConflict      Category = "conflict"
	CategoryEditBounds    Category = "edit_bounds"
	CategoryStorage       Category = "storage"
	CategoryReplication   Category = "replication"
	CategoryPeer          Category = "peer"
	CategoryFatal         Category = "fatal"
	CategoryInternal      Category = "internal"
)

var categoryByCode = map[Code]Category{
	CodeShortRead:        CategoryProtocol,
	CodeUnexpectedType:   CategoryProtocol,
	CodeOversizePayload:  CategoryProtocol,
	CodeMalformedPayload: CategoryProtocol,

	CodeNoPermission:  CategoryAccess,
	CodeNotOwner:      CategoryAccess,
	CodeAuthRequired:  CategoryAccess,
	CodeBadCredential: CategoryAccess,

	CodeFileNotFound: CategoryNotFound,
	CodeSNNotFound:   CategoryNotFound,
	CodeUserNotFound: CategoryNotFound,

	CodeFileExists:       CategoryConflict,
	CodeCheckpointExists: CategoryConflict,
	CodeSentenceLocked:   CategoryConflict,
	CodeWriteInProgress:  CategoryConflict,
	CodeFolderExists:     CategoryConflict,

	CodeBadSentenceIndex: CategoryEditBounds,
	CodeBadWordIndex:      CategoryEditBounds,

	CodeIOFailure:         CategoryStorage,
	CodeNoUndoImage:       CategoryStorage,
	CodeCheckpointMissing: CategoryStorage,

	CodeReplicationFailed: CategoryReplication,

	CodePeerOffline: CategoryPeer,
	CodeRetryLater:  CategoryPeer,

	CodeListenFailed:    CategoryFatal,
	CodeStorageInitFail: CategoryFatal,
	CodePersistFailed:   CategoryFatal,
}

// retryable holds the codes considered safe to retry without additional
// client-side reasoning (peer-unavailable conditions, mostly).
var retryable = map[Code]bool{
	CodePeerOffline: true,
	CodeRetryLater:  true,
	CodeIOFailure:   false, // storage failures require investigation, not a blind retry
}

// Error is the structured error type returned by every core package.
type Error struct {
	Code      Code
	Category  Category
	Message   string
	Component string
	Operation string
	Cause     error
	Timestamp time.Time
	Retryable bool
}

// New creates an Error with category and retryability derived from code.
func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: retryable[code],
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Component != "" && e.Operation != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
	}
	if e.Component != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches by code, so errors.Is(err, dfserrors.New(CodeFileNotFound, "")) works
// without requiring identical messages.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// WithComponent annotates the error with the owning component (e.g. "sn", "ds").
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithOperation annotates the error with the operation that failed.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// GetCategory derives the category for a code, falling back to internal.
func GetCategory(code Code) Category {
	if cat, ok := categoryByCode[code]; ok {
		return cat
	}
	return CategoryInternal
}

// Has reports whether err, or any *Error in its Cause chain, carries the given code.
func Has(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Code == code {
				return true
			}
			err = e.Cause
			continue
		}
		break
	}
	return false
}

// String renders a detailed, log-friendly representation.
func (e *Error) String() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("category=%s", e.Category))
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "retryable=true")
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("Error{%s} %s", strings.Join(parts, ", "), e.Message)
}
