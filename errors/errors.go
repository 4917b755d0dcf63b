package errors

import "fmt"

var (
	ErrAuthentication      = fmt.Errorf("authentication failed")
	ErrDuplicateConnection = fmt.Errorf("connection already registered")
	ErrUnknownConnection   = fmt.Errorf("connection not registered")
	ErrInvalidRequest      = fmt.Errorf("invalid send request")
	ErrChatNotFound        = fmt.Errorf("chat not found")
	ErrNotAMember          = fmt.Errorf("sender is not a chat member")
	ErrPersistence         = fmt.Errorf("message persistence failed")
	ErrBackpressure        = fmt.Errorf("outbound queue overflow")
	ErrSessionClosed       = fmt.Errorf("session is not open")
	ErrWorkerPanic         = fmt.Errorf("worker panic")
	ErrEmptyWords          = fmt.Errorf("no words have been found")
)
