package hub

import (
	"errors"
	"fmt"
)

var (
	ErrConnection        = errors.New("hub connection failed")
	ErrConnectionClosed  = fmt.Errorf("%w: connection closed", ErrConnection)
	ErrHandshake         = errors.New("hub handshake rejected")
	ErrUnmatchedResponse = errors.New("unmatched hub response")
	ErrCommandRejected   = errors.New("hub rejected command")
	ErrTimeout           = errors.New("hub command timed out")
	ErrQueueOverflow     = errors.New("hub command queue full")
)

// CommandRejectedError is the failure for a hub reply with a non-OK code.
type CommandRejectedError struct {
	Code    int
	Message string
}

func (e *CommandRejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: code %d", ErrCommandRejected, e.Code)
	}
	return fmt.Sprintf("%s: code %d: %s", ErrCommandRejected, e.Code, e.Message)
}

func (e *CommandRejectedError) Is(target error) bool {
	return target == ErrCommandRejected
}

// IsConnectionError reports whether err means the hub could not be reached or was lost.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrHandshake)
}

func connectionError(op string, err error) error {
	if errors.Is(err, ErrConnection) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrConnection, op, err)
}

func handshakeError(err error) error {
	if errors.Is(err, ErrHandshake) || errors.Is(err, ErrConnection) {
		return fmt.Errorf("handshake: %w", err)
	}
	return fmt.Errorf("%w: %v", ErrHandshake, err)
}
