// Package ingesterr defines the engine's single tagged-variant error type,
// replacing the deep exception hierarchies the source relied on (see
// spec.md §9's re-architecture advisory). One structure, one ledger row
// shape (model.IngestionError).
package ingesterr

import (
	"errors"
	"fmt"
)

// Kind is the error taxonomy from spec.md §7. It names a failure class,
// not a Go type — every instance is an *Error regardless of Kind.
type Kind string

const (
	KindTransport      Kind = "TRANSPORT"
	KindCredential     Kind = "CREDENTIAL"
	KindParse          Kind = "PARSE"
	KindValidation     Kind = "VALIDATION"
	KindDuplicateFile  Kind = "DUPLICATE_FILE"
	KindDuplicateClaim Kind = "DUPLICATE_CLAIM"
	KindPersistence    Kind = "PERSISTENCE"
	KindVerify         Kind = "VERIFY"
	KindAck            Kind = "ACK"
)

// Error is the engine-wide error value. Stage/FileID/FileName/ObjectType/
// ObjectKey are optional provenance fields used to populate an
// ingestion_error row; Code is a short machine-readable string such as
// CLAIM_INVALID_CORE; Retryable governs whether a caller may re-attempt.
type Error struct {
	Kind       Kind
	Stage      string
	FileID     string
	FileName   string
	ObjectType string
	ObjectKey  string
	Code       string
	Message    string
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with the given kind/code/message.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds an *Error carrying cause, for propagation policy boundaries
// (fetch, parse, persist) where the underlying error must survive for
// logging but the caller should branch on Kind, not on the wrapped type.
func Wrap(kind Kind, code string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: cause.Error(), Cause: cause, Retryable: false}
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// WithStage returns a copy of e with Stage set, for attaching provenance
// as an error threads back up through a call stack.
func (e *Error) WithStage(stage string) *Error {
	c := *e
	c.Stage = stage
	return &c
}

// WithFile returns a copy of e with file provenance set.
func (e *Error) WithFile(fileID, fileName string) *Error {
	c := *e
	c.FileID = fileID
	c.FileName = fileName
	return &c
}

// WithObject returns a copy of e with object provenance set (row-level
// errors: a bad claim, a bad activity).
func (e *Error) WithObject(objectType, objectKey string) *Error {
	c := *e
	c.ObjectType = objectType
	c.ObjectKey = objectKey
	return &c
}
