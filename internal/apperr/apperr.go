// Package apperr defines the typed error returned by the ingestion service
// and its protocol surfaces. Every error carries a stable code that callers
// can switch on without parsing messages.
package apperr

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error identifier.
type Code string

const (
	IndexCreation        Code = "INDEX_CREATION_FAILED"
	IndexDeletion        Code = "INDEX_DELETION_FAILED"
	IndexList            Code = "INDEX_LIST_FAILED"
	IndexDescribe        Code = "INDEX_DESCRIBE_FAILED"
	DocumentAdd          Code = "DOCUMENT_ADD_FAILED"
	DocumentUpdate       Code = "DOCUMENT_UPDATE_FAILED"
	DocumentDelete       Code = "DOCUMENT_DELETE_FAILED"
	DocumentList         Code = "DOCUMENT_LIST_FAILED"
	DocumentSearch       Code = "DOCUMENT_SEARCH_FAILED"
	DocumentNotFound     Code = "DOCUMENT_NOT_FOUND"
	UnsupportedProvider  Code = "UNSUPPORTED_PROVIDER"
	ChunkDelete          Code = "CHUNK_DELETE_FAILED"
	InvalidConfiguration Code = "INVALID_CONFIGURATION"
)

// Error is a coded failure with optional structured details such as the
// index name, document id or query involved.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error wrapping err. details may be nil.
func New(code Code, message string, err error, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: details, Err: err}
}

// Wrap returns nil when err is nil. An err that is already an *Error is
// returned unchanged so the innermost code wins.
func Wrap(code Code, message string, err error, details map[string]any) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return New(code, message, err, details)
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// DetailsOf returns the details of the first *Error in err's chain.
func DetailsOf(err error) map[string]any {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Details
	}
	return nil
}
