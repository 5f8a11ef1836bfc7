package models

// ErrorResponse - стандартная структура для ответа об ошибке в формате JSON.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Коды ошибок API
const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeValidation        = "validation_error"
	ErrCodeUnknownChoice     = "unknown_choice"
	ErrCodeSessionNotFound   = "session_not_found"
	ErrCodeInvalidTransition = "invalid_transition"
	ErrCodeChoiceLocked      = "choice_locked"
	ErrCodeNotPermitted      = "completion_not_permitted"
	ErrCodeCompletionFailed  = "completion_failed"
	ErrCodeSessionClosed     = "session_closed"
	ErrCodeTimeout           = "timeout"
	ErrCodeInternal          = "internal_error"
)
