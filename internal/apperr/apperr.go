// Package apperr: ошибки, которые видит клиент. Вид ошибки определяет статус
// транспорта, код стабилен и читается машиной.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindTransient     Kind = "transient"
	KindRateLimited   Kind = "rate_limited"
)

type Code string

const (
	CodeInvalidID               Code = "INVALID_ID"
	CodeInvalidContent          Code = "INVALID_CONTENT"
	CodeContentTooLong          Code = "CONTENT_TOO_LONG"
	CodeInvalidAttachment       Code = "INVALID_ATTACHMENT"
	CodeInvalidEmoji            Code = "INVALID_EMOJI"
	CodeInvalidInput            Code = "INVALID_INPUT"
	CodeNotMember               Code = "NOT_MEMBER"
	CodeFriendshipNotAccepted   Code = "FRIENDSHIP_NOT_ACCEPTED"
	CodeNotSender               Code = "NOT_SENDER"
	CodeOnlyAdminsCanSend       Code = "ONLY_ADMINS_CAN_SEND"
	CodeNotPrivileged           Code = "NOT_PRIVILEGED"
	CodeConversationNotFound    Code = "CONVERSATION_NOT_FOUND"
	CodeMessageNotFound         Code = "MESSAGE_NOT_FOUND"
	CodeUserNotFound            Code = "USER_NOT_FOUND"
	CodeReplyTargetInvalid      Code = "REPLY_TARGET_INVALID"
	CodeAlreadyRecalled         Code = "ALREADY_RECALLED"
	CodeAlreadyHidden           Code = "ALREADY_HIDDEN"
	CodeEditTimeLimitExceeded   Code = "EDIT_TIME_LIMIT_EXCEEDED"
	CodeRecallTimeLimitExceeded Code = "RECALL_TIME_LIMIT_EXCEEDED"
	CodeMessageDeleted          Code = "MESSAGE_DELETED"
	CodeMessageRecalled         Code = "MESSAGE_RECALLED"
	CodeAlreadyMember           Code = "ALREADY_MEMBER"
	CodeKicked                  Code = "KICKED"
	CodeOwnerCannotLeave        Code = "OWNER_CANNOT_LEAVE"
	CodeStorageUnavailable      Code = "STORAGE_UNAVAILABLE"
	CodeRateLimited             Code = "RATE_LIMITED"
)

type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable: true только для временных сбоев хранилища.
func (e *Error) Retryable() bool { return e.Kind == KindTransient }

func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func New(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Validation(code Code, msg string) *Error { return New(KindValidation, code, msg) }
func Forbidden(code Code, msg string) *Error { return New(KindAuthorization, code, msg) }
func NotFound(code Code, msg string) *Error { return New(KindNotFound, code, msg) }
func Conflict(code Code, msg string) *Error { return New(KindConflict, code, msg) }

func RateLimited() *Error {
	return New(KindRateLimited, CodeRateLimited, "too many requests")
}

// Transient оборачивает сбой хранилища, который можно повторить.
func Transient(err error) *Error {
	return &Error{Kind: KindTransient, Code: CodeStorageUnavailable, Message: "storage unavailable, retry later", Err: err}
}

// As достаёт *Error из err.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// CodeOf возвращает код err или "", если это не *Error.
func CodeOf(err error) Code {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return ""
}
