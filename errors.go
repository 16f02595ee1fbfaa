package carlahost

import (
	"fmt"

	"go.uber.org/zap"
)

// ErrorKind enumerates the error taxonomy the engine reports through
// ErrorHandler.
type ErrorKind int

const (
	ErrTransportTimeout ErrorKind = iota
	ErrTransportCrash
	ErrProtocolViolation
	ErrResourceExhaustion
	ErrCapabilityMismatch
	ErrStateRejection
	ErrUserError
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTransportTimeout:
		return "Transport-Timeout"
	case ErrTransportCrash:
		return "Transport-Crash"
	case ErrProtocolViolation:
		return "Protocol-Violation"
	case ErrResourceExhaustion:
		return "Resource-Exhaustion"
	case ErrCapabilityMismatch:
		return "Capability-Mismatch"
	case ErrStateRejection:
		return "State-Rejection"
	case ErrUserError:
		return "User-Error"
	default:
		return "Unknown"
	}
}

// HostError carries an ErrorKind alongside a wrapped cause, so
// non-RT callers can errors.As down to a kind while ErrorHandler still
// receives a plain error.
type HostError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *HostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *HostError) Unwrap() error { return e.Err }

// NewHostError constructs a HostError of the given kind.
func NewHostError(kind ErrorKind, msg string, cause error) *HostError {
	return &HostError{Kind: kind, Msg: msg, Err: cause}
}

// ErrorHandler defines the interface for handling engine errors.
type ErrorHandler interface {
	HandleError(error)
}

// DefaultErrorHandler logs through a structured zap logger rather than
// a bare fmt.Printf call.
type DefaultErrorHandler struct {
	logger *zap.Logger
}

// NewDefaultErrorHandler wraps logger, or a no-op logger if nil.
func NewDefaultErrorHandler(logger *zap.Logger) *DefaultErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultErrorHandler{logger: logger}
}

func (h *DefaultErrorHandler) HandleError(err error) {
	if he, ok := err.(*HostError); ok {
		h.logger.Error("engine error", zap.String("kind", he.Kind.String()), zap.Error(err))
		return
	}
	h.logger.Error("engine error", zap.Error(err))
}

// LoggingErrorHandler wraps another handler and logs errors first.
type LoggingErrorHandler struct {
	underlying ErrorHandler
	logger     func(error)
}

// NewLoggingErrorHandler creates a new logging error handler.
func NewLoggingErrorHandler(underlying ErrorHandler, logger func(error)) *LoggingErrorHandler {
	return &LoggingErrorHandler{underlying: underlying, logger: logger}
}

func (h *LoggingErrorHandler) HandleError(err error) {
	if h.logger != nil {
		h.logger(err)
	}
	if h.underlying != nil {
		h.underlying.HandleError(err)
	}
}

// PanicErrorHandler panics on any error. Useful during development.
type PanicErrorHandler struct{}

func (h *PanicErrorHandler) HandleError(err error) {
	panic(fmt.Sprintf("carlahost error: %v", err))
}
