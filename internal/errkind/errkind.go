// Package errkind implements the network stack's fixed error-kind taxonomy.
//
// A small value type carries a code, looks its message up in a registered
// table, and can wrap parent errors for chaining.
package errkind

import "fmt"

// Code is one of the fixed error kinds an RPC can return.
type Code uint16

const (
	Success Code = iota
	InvalidParameter
	InvalidHandle
	NetworkProto
	NetworkConnNone
	NotInitialized
	Aborted
	InvalidState
	OperationDenied
	OutOfBounds
	BufferTooSmall
	TryAgain
	NoData
	Generic
)

var messages = map[Code]string{
	Success:          "success",
	InvalidParameter: "invalid parameter",
	InvalidHandle:    "invalid handle",
	NetworkProto:     "operation not valid for this socket type",
	NetworkConnNone:  "socket is not connected",
	NotInitialized:   "component is not initialized",
	Aborted:          "component is in fatal error state",
	InvalidState:     "operation not valid in current state",
	OperationDenied:  "operation denied",
	OutOfBounds:      "value out of configured bounds",
	BufferTooSmall:   "buffer too small",
	TryAgain:         "transient condition, try again",
	NoData:           "no data available",
	Generic:          "generic failure",
}

// RegisterMessage overrides the default message for a code. Exists mainly so
// tests and embedders can localize or annotate messages without touching the
// taxonomy itself.
func RegisterMessage(c Code, msg string) {
	messages[c] = msg
}

// Message returns the human-readable string for a code.
func (c Code) Message() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return messages[Generic]
}

func (c Code) String() string {
	return c.Message()
}

// Err wraps the code as a Go error, optionally chaining parent errors.
// A Success code never produces an error: Err returns nil.
func (c Code) Err(parents ...error) error {
	if c == Success {
		return nil
	}
	return &kindError{code: c, parents: filterNil(parents)}
}

// Is reports whether err, or an errkind parent reached by following each
// error's first parent, carries this code. The search stops at the first
// error in the chain that did not originate from this package.
func (c Code) Is(err error) bool {
	var ke *kindError
	for err != nil {
		if e, ok := err.(*kindError); ok {
			ke = e
			if ke.code == c {
				return true
			}
			if len(ke.parents) == 0 {
				return false
			}
			err = ke.parents[0]
			continue
		}
		return false
	}
	return false
}

type kindError struct {
	code    Code
	parents []error
}

func (e *kindError) Error() string {
	if len(e.parents) == 0 {
		return fmt.Sprintf("%s (code=%d)", e.code.Message(), e.code)
	}
	return fmt.Sprintf("%s (code=%d): %s", e.code.Message(), e.code, e.parents[0])
}

func (e *kindError) Unwrap() error {
	if len(e.parents) == 0 {
		return nil
	}
	return e.parents[0]
}

// FromError extracts the errkind.Code carried by err, defaulting to Generic
// for errors that did not originate from this package.
func FromError(err error) Code {
	if err == nil {
		return Success
	}
	if ke, ok := err.(*kindError); ok {
		return ke.code
	}
	return Generic
}

func filterNil(errs []error) []error {
	out := make([]error, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}
