package carlahost

import (
	"errors"
	"testing"
)

func TestHostErrorFormattingAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	he := NewHostError(ErrTransportTimeout, "worker did not ack", cause)

	if he.Error() == "" {
		t.Fatalf("expected a non-empty error message")
	}
	if !errors.Is(he, cause) {
		t.Fatalf("expected errors.Is to see through Unwrap to the cause")
	}
	if ErrTransportTimeout.String() != "Transport-Timeout" {
		t.Fatalf("expected Transport-Timeout, got %q", ErrTransportTimeout.String())
	}
}

func TestLoggingErrorHandlerCallsBoth(t *testing.T) {
	var logged error
	underlying := &recordingHandler{}
	h := NewLoggingErrorHandler(underlying, func(err error) { logged = err })

	sample := errors.New("sample")
	h.HandleError(sample)

	if logged != sample {
		t.Fatalf("expected logger callback to see the error")
	}
	if underlying.last != sample {
		t.Fatalf("expected underlying handler to see the error")
	}
}

type recordingHandler struct{ last error }

func (r *recordingHandler) HandleError(err error) { r.last = err }
