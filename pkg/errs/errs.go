// Package errs holds the error taxonomy shared by the room, persistence and service packages.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrRoomFull     = errors.New("room is full")
	ErrNotHost      = errors.New("only the host may perform this operation")
	ErrNoWorkspace  = errors.New("no workspace id established")
)

// ValidationError reports a failed local precondition. It never reaches the network layer.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NetworkError wraps a failure to reach the transport, signaling or directory endpoints.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func Network(op string, err error) error {
	if err == nil {
		return nil
	}
	return &NetworkError{Op: op, Err: errors.WithStack(err)}
}

// PersistenceError wraps a failed read or write of durable state. Local is set when the
// failing tier is the local cache, which is fatal to the session.
type PersistenceError struct {
	Op    string
	Local bool
	Err   error
}

func (e *PersistenceError) Error() string {
	tier := "remote"
	if e.Local {
		tier = "local"
	}
	return fmt.Sprintf("%s persistence failure during %s: %v", tier, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: errors.WithStack(err)}
}

func LocalPersistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Local: true, Err: errors.WithStack(err)}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNetwork(err error) bool {
	var n *NetworkError
	return errors.As(err, &n)
}

func IsPersistence(err error) bool {
	var p *PersistenceError
	return errors.As(err, &p)
}

// IsLocalPersistence reports whether err came from the local cache tier.
func IsLocalPersistence(err error) bool {
	var p *PersistenceError
	return errors.As(err, &p) && p.Local
}
