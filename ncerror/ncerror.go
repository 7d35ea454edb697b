// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package ncerror implements the RFC 6241 Appendix A rpc-error model.
//
// Every operation in this repository that can fail returns an error
// that either already is, or can be converted into, an *Error so the
// dispatcher can render a well-formed rpc-reply/rpc-error document
// without guessing at error-type/error-tag from a bare Go error string.
package ncerror

import (
	"bytes"
	"fmt"
)

// ErrorType is the RFC 6241 Appendix A error-type.
type ErrorType string

const (
	TypeTransport  ErrorType = "transport"
	TypeRPC        ErrorType = "rpc"
	TypeProtocol   ErrorType = "protocol"
	TypeApplication ErrorType = "application"
)

// ErrorTag is the RFC 6241 Appendix A error-tag.
type ErrorTag string

const (
	TagInUse               ErrorTag = "in-use"
	TagInvalidValue        ErrorTag = "invalid-value"
	TagTooBig              ErrorTag = "too-big"
	TagMissingAttribute    ErrorTag = "missing-attribute"
	TagBadAttribute        ErrorTag = "bad-attribute"
	TagUnknownAttribute    ErrorTag = "unknown-attribute"
	TagMissingElement      ErrorTag = "missing-element"
	TagBadElement          ErrorTag = "bad-element"
	TagUnknownElement      ErrorTag = "unknown-element"
	TagUnknownNamespace    ErrorTag = "unknown-namespace"
	TagAccessDenied        ErrorTag = "access-denied"
	TagLockDenied          ErrorTag = "lock-denied"
	TagResourceDenied      ErrorTag = "resource-denied"
	TagRollbackFailed      ErrorTag = "rollback-failed"
	TagDataExists          ErrorTag = "data-exists"
	TagDataMissing         ErrorTag = "data-missing"
	TagOperationNotSupported ErrorTag = "operation-not-supported"
	TagOperationFailed     ErrorTag = "operation-failed"
	TagMalformedMessage    ErrorTag = "malformed-message"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Error is a single RFC 6241 Appendix A rpc-error.
type Error struct {
	Type     ErrorType
	Tag      ErrorTag
	Severity Severity
	AppTag   string
	Path     string
	Message  string
	Info     map[string]string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Tag)
}

func newError(t ErrorType, tag ErrorTag) *Error {
	return &Error{Type: t, Tag: tag, Severity: SeverityError}
}

// Constructors named after the observed mgmterror API so the rest of
// the tree reads the same as the teacher's dispatcher/commit code.

func NewInvalidValueProtocolError() *Error {
	return newError(TypeProtocol, TagInvalidValue)
}

func NewAccessDeniedApplicationError() *Error {
	return newError(TypeApplication, TagAccessDenied)
}

func NewOperationFailedApplicationError() *Error {
	return newError(TypeApplication, TagOperationFailed)
}

func NewOperationNotSupportedApplicationError() *Error {
	return newError(TypeApplication, TagOperationNotSupported)
}

func NewResourceDeniedProtocolError() *Error {
	return newError(TypeProtocol, TagResourceDenied)
}

func NewInUseProtocolError() *Error {
	return newError(TypeProtocol, TagInUse)
}

func NewLockDeniedProtocolError(holderSession string) *Error {
	e := newError(TypeProtocol, TagLockDenied)
	e.Message = "Lock is currently held by session " + holderSession
	e.Info = map[string]string{"session-id": holderSession}
	return e
}

func NewRollbackFailedApplicationError() *Error {
	return newError(TypeApplication, TagRollbackFailed)
}

func NewMissingElementProtocolError(path string) *Error {
	e := newError(TypeProtocol, TagMissingElement)
	e.Path = path
	e.AppTag = string(TagMissingElement)
	return e
}

func NewDataMissingApplicationError() *Error {
	return newError(TypeApplication, TagDataMissing)
}

func NewDataExistsApplicationError() *Error {
	return newError(TypeApplication, TagDataExists)
}

func NewMalformedMessageRPCError() *Error {
	return newError(TypeRPC, TagMalformedMessage)
}

// List aggregates multiple rpc-errors, as a commit or validate pass
// can surface more than one diagnostic at once.
type List struct {
	Errors []*Error
}

func (l *List) Append(errs ...error) {
	for _, err := range errs {
		if err == nil {
			continue
		}
		if e, ok := err.(*Error); ok {
			l.Errors = append(l.Errors, e)
			continue
		}
		l.Errors = append(l.Errors, &Error{
			Type:     TypeApplication,
			Tag:      TagOperationFailed,
			Severity: SeverityError,
			Message:  err.Error(),
		})
	}
}

func (l *List) Empty() bool {
	return len(l.Errors) == 0
}

func (l *List) Error() string {
	return l.CustomError(defaultFormat)
}

// Formatter renders a single diagnostic into the aggregate message;
// callers that need CLI-flavored or NETCONF-flavored text supply their
// own, mirroring mgmterror.MgmtErrorList.CustomError.
type Formatter func(e *Error) string

func defaultFormat(e *Error) string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s", e.Path, e.Message)
	}
	return e.Message
}

func (l *List) CustomError(f Formatter) string {
	var b bytes.Buffer
	for i, e := range l.Errors {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(f(e))
	}
	return b.String()
}
