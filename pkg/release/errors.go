package release

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the failure classes a release command can hit. Every
// failure aborts the current command; nothing in this package retries.
var (
	// ErrMissingArtifact means a required release file (recovery or main
	// image, or the version folder itself) is absent.
	ErrMissingArtifact = errors.New("required release artifact missing")
	// ErrQuorumNotReached means archive assembly was attempted while at
	// least one artifact is not fully signed.
	ErrQuorumNotReached = errors.New("not all artifacts have two signatures")
	// ErrCorruptSignatureHeader means signature slot 1 is empty while slot 2
	// is filled. This is never repaired automatically.
	ErrCorruptSignatureHeader = errors.New("corrupt signature header")
	// ErrArchiveNotFound means archive signing was attempted before the
	// archive was assembled.
	ErrArchiveNotFound = errors.New("release archive not found")
)

// QuorumError carries the full per-artifact report so callers can tell the
// operator exactly which files still need a signature.
type QuorumError struct {
	Report QuorumReport
}

func (e *QuorumError) Error() string {
	var pending []string
	for _, s := range e.Report.Unquorate() {
		pending = append(pending, fmt.Sprintf("%s (%s)", s.Name, s.State))
	}
	return fmt.Sprintf("%s: %s", ErrQuorumNotReached, strings.Join(pending, ", "))
}

func (e *QuorumError) Unwrap() error {
	return ErrQuorumNotReached
}
