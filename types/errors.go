package types

import (
	"errors"
	"fmt"
)

var (
	ErrAuthentication    = errors.New("authentication failed")
	ErrAdmissionRejected = errors.New("sender not admitted")
	ErrDuplicateJob      = errors.New("hash already exists")

	ErrEmptyProof           = errors.New("empty proof")
	ErrMissingPublicSignals = errors.New("missing public signals")
	ErrVerificationFailed   = errors.New("proof verification failed")

	ErrRunNotFound   = errors.New("run not found")
	ErrSliceNotFound = errors.New("slice not found")

	ErrTransport         = errors.New("transport failure")
	ErrMalformedResponse = errors.New("malformed response")

	ErrMaintenance = errors.New("maintenance failed")
	ErrNotMember   = errors.New("identity is not a registered member")

	ErrNoCircuits       = errors.New("no circuits registered")
	ErrCircuitNotFound  = errors.New("circuit not found")
	ErrCommitmentAbsent = errors.New("commitment not found")
)

// StatusError is a non-success status answered by a worker.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("worker responded with status %d", e.Code)
	}
	return fmt.Sprintf("worker responded with status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrTransport
}
