package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrTransient     = errors.New("transient failure")
	ErrPermanent     = errors.New("permanent failure")
	ErrInterrupted   = errors.New("interrupted")
	ErrTimeout       = errors.New("timeout")
	ErrShutdown      = errors.New("scheduler shutting down")
	ErrNotFound      = errors.New("not found")
)

// Kind is the retry class of a failure.
type Kind int

const (
	// KindPermanent failures mark the dataset as errored and are not retried.
	KindPermanent Kind = iota
	// KindTransient failures are released back to the queue with backoff.
	KindTransient
	// KindConfiguration failures are permanent and never retried; they point
	// at bad parameters or an unknown processor.
	KindConfiguration
	// KindInterrupted means the job was asked to stop and should be requeued
	// without counting an attempt.
	KindInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindConfiguration:
		return "configuration"
	case KindInterrupted:
		return "interrupted"
	default:
		return "permanent"
	}
}

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrPermanent
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error to its retry class. Unmarked errors are permanent,
// except deadline and network timeouts which are transient.
func Classify(err error) Kind {
	if err == nil {
		return KindPermanent
	}
	switch {
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrInterrupted), errors.Is(err, ErrShutdown), errors.Is(err, context.Canceled):
		return KindInterrupted
	case errors.Is(err, ErrPermanent):
		return KindPermanent
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	return KindPermanent
}

// Retryable reports whether err should be released back to the queue.
func Retryable(err error) bool {
	return Classify(err) == KindTransient
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
