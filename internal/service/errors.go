package service

import (
	"errors"
	"fmt"

	"live-session/internal/domain"
)

// 认证相关
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRegistrationFailed   = errors.New("registration failed: username or email already exists")
)

// 业务错误种类。具体错误通过 %w 包装种类，调用方用 errors.Is 判断。
var (
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidState     = errors.New("operation not allowed in current state")
	ErrNotFound         = errors.New("not found")
	ErrDuplicateRequest = errors.New("a pending join request already exists")
	ErrDuplicateInvite  = errors.New("participant already invited")
	ErrAlreadyInSession = errors.New("already in session")
	ErrCapacityExceeded = errors.New("too many active sessions for project")
	ErrCannotRemoveHost = errors.New("host cannot leave or be removed; transfer host or end the session")
	ErrUpstreamFailure  = errors.New("credential issuer unavailable")
	ErrNotProjectMember = errors.New("user is not a member of the project")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInternalServer   = errors.New("internal server error")
)

var (
	ErrSessionNotActive    = fmt.Errorf("session is not active: %w", ErrInvalidState)
	ErrSessionNotFound     = fmt.Errorf("session %w", ErrNotFound)
	ErrParticipantNotFound = fmt.Errorf("participant %w", ErrNotFound)
	ErrJoinRequestNotFound = fmt.Errorf("join request %w", ErrNotFound)
	ErrProjectNotFound     = fmt.Errorf("project %w", ErrNotFound)
	ErrUserNotFound        = fmt.Errorf("user %w", ErrNotFound)
	ErrNotInSession        = fmt.Errorf("not in session: %w", ErrNotFound)
)

// invalidTransition 生成带上下文的 InvalidState 错误
func invalidTransition(op string, status domain.SessionStatus) error {
	return fmt.Errorf("cannot %s a %s session: %w", op, status, ErrInvalidState)
}

// ErrorCode 把业务错误归类为对客户端稳定的错误码，websocket 的 error 事件与 HTTP 响应共用。
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAuthenticationFailed):
		return "authentication_failed"
	case errors.Is(err, ErrRegistrationFailed):
		return "registration_failed"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotProjectMember):
		return "not_project_member"
	case errors.Is(err, ErrSessionNotActive):
		return "session_not_active"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrNotInSession):
		return "not_in_session"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateRequest):
		return "duplicate_request"
	case errors.Is(err, ErrDuplicateInvite):
		return "duplicate_invite"
	case errors.Is(err, ErrAlreadyInSession):
		return "already_in_session"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrCannotRemoveHost):
		return "cannot_remove_host"
	case errors.Is(err, ErrUpstreamFailure):
		return "upstream_failure"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	}
	return "internal"
}
