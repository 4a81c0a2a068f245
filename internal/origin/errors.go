package origin

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnavailable means every mirror failed at the transport level in
	// every round.
	ErrUnavailable = errors.New("origin: all mirrors unavailable")

	// ErrNoValidMedia means the origin answered but no item survived
	// validation.
	ErrNoValidMedia = errors.New("origin: no valid media")
)

// TransportError is a network, timeout or decoding failure against one
// mirror. It is absorbed by the resolver and never surfaced on its own.
type TransportError struct {
	Mirror string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("origin: transport %s: %v", e.Mirror, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DeclinedError carries a well-formed refusal from an origin verbatim.
type DeclinedError struct {
	Code    string
	Context map[string]any
}

func (e *DeclinedError) Error() string {
	return "origin: declined: " + strings.ReplaceAll(e.Message(), "\n", " ")
}

// Message renders the code and its context for display to the requester.
func (e *DeclinedError) Message() string {
	if len(e.Context) == 0 {
		return e.Code
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, e.Context[k]))
	}
	return e.Code + "\nContext: " + strings.Join(parts, ", ")
}
