package release

import (
	"context"
	"fmt"

	"github.com/Foundation-Devices/KeyOS-Releases/pkg/cosign"
)

// Progress lets the command layer print per-file progress. Start is called
// before an artifact is handed to the signing tool, Done after the tool
// accepted it.
type Progress struct {
	Start func(name string)
	Done  func(name string)
}

// SignFiles runs one signing session over every artifact in the set, in
// set order. Each file is handed to the tool unconditionally: the tool
// fills the first empty slot and rejects a third signature itself, which
// keeps this safe to run by two independent signers at different times.
//
// The first failure aborts the session. If the failed file turns out to
// have a corrupt header (slot 1 empty, slot 2 filled) the error is
// classified as ErrCorruptSignatureHeader so the operator knows the file
// must be rebuilt, not re-signed.
func SignFiles(ctx context.Context, oracle cosign.Oracle, set *Set, signer cosign.Signer, progress Progress) error {
	for _, name := range set.Artifacts() {
		if progress.Start != nil {
			progress.Start(name)
		}
		path := set.OraclePath(name)
		if err := oracle.Sign(ctx, path, signer); err != nil {
			if d, derr := oracle.Dump(ctx, path); derr == nil && d.State() == cosign.HeaderCorrupt {
				return fmt.Errorf("%w: %s (signature slot 1 is empty while slot 2 is filled): %v",
					ErrCorruptSignatureHeader, name, err)
			}
			return fmt.Errorf("unable to sign %s: %w", name, err)
		}
		if progress.Done != nil {
			progress.Done(name)
		}
	}
	return nil
}
