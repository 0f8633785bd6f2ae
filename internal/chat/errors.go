package chat

import "errors"

// Caller errors. All are typed results returned before any mutation; none of
// them ever leaves a partial append behind.
var (
	// ErrUserNotInChat indicates the caller is not a current member of the scope.
	ErrUserNotInChat = errors.New("chat: user is not a member")

	// ErrUserSuspended indicates the caller's membership is suspended.
	ErrUserSuspended = errors.New("chat: user is suspended")

	// ErrNotAuthorized indicates the caller's role is below the required role.
	ErrNotAuthorized = errors.New("chat: not authorized")

	// ErrThreadMessageNotFound indicates the thread root is absent or below
	// the caller's visibility watermark.
	ErrThreadMessageNotFound = errors.New("chat: thread root message not found")

	// ErrMessageNotFound indicates the target message is absent or below the
	// caller's visibility watermark.
	ErrMessageNotFound = errors.New("chat: message not found")

	// ErrInvalidRequest covers structurally valid but semantically impossible
	// requests, e.g. a crypto message whose transfer has not completed.
	ErrInvalidRequest = errors.New("chat: invalid request")

	// ErrLastOwner indicates an operation would leave the chat without an owner.
	ErrLastOwner = errors.New("chat: cannot demote or remove the last owner")
)

// Content validation errors.
var (
	ErrMessageEmpty  = errors.New("chat: message content is empty")
	ErrTextTooLong   = errors.New("chat: text exceeds the maximum length")
	ErrInvalidPoll   = errors.New("chat: poll config is invalid")
	ErrCannotForward = errors.New("chat: content type cannot be forwarded")
)
