package release

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Foundation-Devices/KeyOS-Releases/pkg/cosign"
	"github.com/spf13/afero"
)

// CreateArchive assembles the release archive for a fully signed set and
// returns its set-relative name.
//
// Quorum is re-checked immediately before assembly; a stale check from an
// earlier run is never trusted because independent signers may have touched
// the set since. If any artifact is not fully signed a *QuorumError is
// returned and nothing is written.
//
// The archive is deliberately rebuilt on every call, even if one already
// exists for the version: assembly is deterministic (fixed entry order,
// zeroed tar metadata), so rebuilding from identical inputs reproduces the
// same bytes and silently keeping an old archive would only hide drift.
// Note that rebuilding discards any signatures on a previous archive.
func CreateArchive(ctx context.Context, oracle cosign.Oracle, set *Set) (string, error) {
	report, err := CheckSetQuorum(ctx, oracle, set)
	if err != nil {
		return "", err
	}
	if !report.AllQuorate() {
		return "", &QuorumError{Report: report}
	}

	if _, err := WriteManifest(set); err != nil {
		return "", err
	}

	// Entry order is fixed: the top-level binaries, the applications, then
	// the manifest. Together with the zeroed header metadata this makes the
	// archive a pure function of the artifact bytes.
	entries := []string{RecoveryName, MainName}
	entries = append(entries, set.Apps...)
	entries = append(entries, ManifestName)

	name := set.ArchiveName()
	tmp := set.relPath(name + ".tmp")
	f, err := set.fsys.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("unable to create archive: %w", err)
	}

	tw := tar.NewWriter(f)
	for _, entry := range entries {
		if err := appendEntry(tw, set, entry); err != nil {
			f.Close()
			set.fsys.Remove(tmp)
			return "", err
		}
	}
	if err := tw.Close(); err != nil {
		f.Close()
		set.fsys.Remove(tmp)
		return "", fmt.Errorf("unable to finalize archive: %w", err)
	}
	if err := f.Close(); err != nil {
		set.fsys.Remove(tmp)
		return "", fmt.Errorf("unable to close archive: %w", err)
	}
	if err := set.fsys.Rename(tmp, set.relPath(name)); err != nil {
		set.fsys.Remove(tmp)
		return "", fmt.Errorf("unable to move archive into place: %w", err)
	}
	return name, nil
}

func appendEntry(tw *tar.Writer, set *Set, name string) error {
	size, err := set.Size(name)
	if err != nil {
		return fmt.Errorf("unable to stat %s: %w", name, err)
	}
	// Fixed metadata keeps the archive byte-reproducible: same inputs, same
	// bytes, regardless of who assembles it and when.
	hdr := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    size,
		ModTime: time.Unix(0, 0),
		Format:  tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("unable to write archive entry %s: %w", name, err)
	}
	f, err := set.Open(name)
	if err != nil {
		return fmt.Errorf("unable to open %s: %w", name, err)
	}
	defer f.Close()
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("unable to archive %s: %w", name, err)
	}
	return nil
}

// ArchiveSignResult reports an archive signing session: the state found
// before the session, the state after, and the slot metadata dumped after
// the session for audit output.
type ArchiveSignResult struct {
	Before cosign.SignatureState
	After  cosign.SignatureState
	Slots  []cosign.SlotInfo
}

// SignArchive advances the release archive's signature state by at most one
// transition:
//
//	Unsigned        -> PartiallySigned
//	PartiallySigned -> FullySigned
//	FullySigned     -> FullySigned (reported, tool NOT invoked)
//	HeaderCorrupt   -> error, never repaired
//
// The archive must already have been assembled; signing never creates it.
func SignArchive(ctx context.Context, oracle cosign.Oracle, set *Set, signer cosign.Signer) (ArchiveSignResult, error) {
	name := set.ArchiveName()
	if ok, err := set.Exists(name); err != nil {
		return ArchiveSignResult{}, fmt.Errorf("unable to check archive: %w", err)
	} else if !ok {
		return ArchiveSignResult{}, fmt.Errorf("%w: %s (run archive create first)", ErrArchiveNotFound, name)
	}

	path := set.OraclePath(name)
	before, slots, err := CheckQuorum(ctx, oracle, path)
	if err != nil {
		return ArchiveSignResult{}, err
	}
	result := ArchiveSignResult{Before: before, After: before, Slots: slots}

	switch before {
	case cosign.FullySigned:
		// Already at quorum. Echo the existing signatures; a third call to
		// the tool would only fail.
		return result, nil
	case cosign.HeaderCorrupt:
		return result, fmt.Errorf("%w: %s (signature slot 1 is empty while slot 2 is filled)",
			ErrCorruptSignatureHeader, name)
	}

	if err := oracle.Sign(ctx, path, signer); err != nil {
		return result, fmt.Errorf("unable to sign %s: %w", name, err)
	}

	after, slots, err := CheckQuorum(ctx, oracle, path)
	if err != nil {
		return result, err
	}
	result.After = after
	result.Slots = slots
	return result, nil
}

// writeFileAtomic writes data to a temp file and renames it into place so
// an interrupted write never leaves a truncated file behind.
func writeFileAtomic(fsys afero.Fs, path string, data []byte) error {
	tmp := path + ".tmp"
	if err := afero.WriteFile(fsys, tmp, data, 0644); err != nil {
		return err
	}
	if err := fsys.Rename(tmp, path); err != nil {
		fsys.Remove(tmp)
		return err
	}
	return nil
}
