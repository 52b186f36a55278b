package util

import (
	"errors"

	"github.com/Foundation-Devices/KeyOS-Releases/pkg/cosign"
	"github.com/Foundation-Devices/KeyOS-Releases/pkg/diskimage"
	"github.com/Foundation-Devices/KeyOS-Releases/pkg/release"
)

// ExitCode distinguishes the failure classes at the process level so
// scripting around the tool can branch without parsing messages.
type ExitCode int

const (
	Success ExitCode = iota
	GeneralError
	QuorumNotReached
	MissingArtifact
	CorruptSignatureHeader
	ArchiveNotFound
	PartitionOverflow
	OracleUnavailable
)

// CtlError attaches an explicit exit code to an error. Errors without one
// exit with GeneralError or whatever CodeFor derives from their class.
type CtlError struct {
	Err  error
	Code ExitCode
}

func (e *CtlError) Error() string {
	return e.Err.Error()
}

func (e *CtlError) Unwrap() error {
	return e.Err
}

func NewCtlError(err error, code ExitCode) *CtlError {
	return &CtlError{Err: err, Code: code}
}

// CodeFor maps an error to its exit code, honoring an explicit CtlError
// first and falling back to the sentinel error classes.
func CodeFor(err error) ExitCode {
	if err == nil {
		return Success
	}
	var ctlErr *CtlError
	if errors.As(err, &ctlErr) {
		return ctlErr.Code
	}
	switch {
	case errors.Is(err, release.ErrQuorumNotReached):
		return QuorumNotReached
	case errors.Is(err, release.ErrMissingArtifact):
		return MissingArtifact
	case errors.Is(err, release.ErrCorruptSignatureHeader):
		return CorruptSignatureHeader
	case errors.Is(err, release.ErrArchiveNotFound):
		return ArchiveNotFound
	case errors.Is(err, diskimage.ErrPartitionOverflow):
		return PartitionOverflow
	case errors.Is(err, cosign.ErrOracleUnavailable):
		return OracleUnavailable
	default:
		return GeneralError
	}
}
