package room

import "errors"

// Code is the short error code sent to clients.
type Code string

const (
	CodeRoomNotFound         Code = "ROOM_NOT_FOUND"
	CodeRoomFull             Code = "ROOM_FULL"
	CodeNotHost              Code = "NOT_HOST"
	CodeMatchInProgress      Code = "MATCH_IN_PROGRESS"
	CodeNotInRoom            Code = "NOT_IN_ROOM"
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeTextGenerationFailed Code = "TEXT_GENERATION_FAILED"
	CodeInvalidSettings      Code = "INVALID_SETTINGS"

	// Internal codes, logged by the gateway and never sent.
	CodeInvalidStage     Code = "INVALID_STAGE"
	CodeAlreadyInRoom    Code = "ALREADY_IN_ROOM"
	CodeMatchNotRunning  Code = "MATCH_NOT_RUNNING"
	CodeCodeSpaceExhaust Code = "CODE_SPACE_EXHAUSTED"
)

// Error is the failure half of every store operation.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrRoomNotFound    = &Error{Code: CodeRoomNotFound}
	ErrRoomFull        = &Error{Code: CodeRoomFull}
	ErrNotHost         = &Error{Code: CodeNotHost}
	ErrMatchInProgress = &Error{Code: CodeMatchInProgress}
	ErrNotInRoom       = &Error{Code: CodeNotInRoom}
	ErrAlreadyInRoom   = &Error{Code: CodeAlreadyInRoom}
	ErrMatchNotRunning = &Error{Code: CodeMatchNotRunning}
	ErrInvalidStage    = &Error{Code: CodeInvalidStage}
)

// CodeOf extracts the error code of err, or "" if err is not a store error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Public reports whether the code may be sent to a client.
func (c Code) Public() bool {
	switch c {
	case CodeRoomNotFound, CodeRoomFull, CodeNotHost, CodeMatchInProgress, CodeNotInRoom,
		CodeUnauthorized, CodeTextGenerationFailed, CodeInvalidSettings:
		return true
	}
	return false
}
