package httpserver

import (
	"net/http"
)

type ErrorCode string

const (
	ErrCodeValidation          ErrorCode = "VALIDATION_ERROR"
	ErrCodePhoneExists         ErrorCode = "PHONE_EXISTS"
	ErrCodeUserNotFound        ErrorCode = "USER_NOT_FOUND"
	ErrCodeInvalidCredentials  ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeTokenInvalid        ErrorCode = "TOKEN_INVALID"
	ErrCodeTokenExpired        ErrorCode = "TOKEN_EXPIRED"
	ErrCodeSessionActive       ErrorCode = "SESSION_ACTIVE"
	ErrCodePairTokenInvalid    ErrorCode = "PAIR_TOKEN_INVALID"
	ErrCodeCannotMessageSelf   ErrorCode = "CANNOT_MESSAGE_SELF"
	ErrCodeMessageNotFound     ErrorCode = "MESSAGE_NOT_FOUND"
	ErrCodeMessageAccessDenied ErrorCode = "MESSAGE_ACCESS_DENIED"
	ErrCodeCallNotFound        ErrorCode = "CALL_NOT_FOUND"
	ErrCodeCallAccessDenied    ErrorCode = "CALL_ACCESS_DENIED"
	ErrCodeCallInvalidState    ErrorCode = "CALL_INVALID_STATE"
	ErrCodeFileNotFound        ErrorCode = "FILE_NOT_FOUND"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
	ErrCodeMethodNotAllowed    ErrorCode = "METHOD_NOT_ALLOWED"
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
)

var errorHTTPStatus = map[ErrorCode]int{
	ErrCodeValidation:          http.StatusBadRequest,
	ErrCodePhoneExists:         http.StatusConflict,
	ErrCodeUserNotFound:        http.StatusNotFound,
	ErrCodeInvalidCredentials:  http.StatusUnauthorized,
	ErrCodeTokenInvalid:        http.StatusUnauthorized,
	ErrCodeTokenExpired:        http.StatusUnauthorized,
	ErrCodeSessionActive:       http.StatusConflict,
	ErrCodePairTokenInvalid:    http.StatusForbidden,
	ErrCodeCannotMessageSelf:   http.StatusBadRequest,
	ErrCodeMessageNotFound:     http.StatusNotFound,
	ErrCodeMessageAccessDenied: http.StatusForbidden,
	ErrCodeCallNotFound:        http.StatusNotFound,
	ErrCodeCallAccessDenied:    http.StatusForbidden,
	ErrCodeCallInvalidState:    http.StatusConflict,
	ErrCodeFileNotFound:        http.StatusNotFound,
	ErrCodeInternal:            http.StatusInternalServerError,
	ErrCodeMethodNotAllowed:    http.StatusMethodNotAllowed,
	ErrCodeNotFound:            http.StatusNotFound,
}

func httpStatusForCode(code ErrorCode) int {
	if status, ok := errorHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
