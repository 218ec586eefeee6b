package server

import (
	"errors"
	"net/http"
)

var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("forbidden")
	ErrValidationFailed       = errors.New("validation failed")
	ErrPersistence            = errors.New("persistence failure")
	// ErrTransientDelivery marks a session whose queue could not take a
	// message. It is counted and logged, never reported.
	ErrTransientDelivery = errors.New("session unreachable")
)

// ErrResponse reports err to the calling session. Persistence and unknown
// errors are reported without detail.
func ErrResponse(id int, err error) *ServerMessage {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrAuthenticationRequired):
		code = http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, ErrValidationFailed):
		code = http.StatusBadRequest
	default:
		return ErrInternalError(id)
	}

	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        err.Error(),
		},
	}
}
