package release

import (
	"context"
	"errors"
	"fmt"

	"github.com/Foundation-Devices/KeyOS-Releases/pkg/cosign"
)

// ArtifactState is one artifact's signature state at the moment of a quorum
// check, with the raw slot metadata for audit output.
type ArtifactState struct {
	Name  string
	State cosign.SignatureState
	Slots []cosign.SlotInfo
}

// QuorumReport is the result of checking every artifact in a set. States
// are ordered like Set.Artifacts so reports are stable across runs.
type QuorumReport struct {
	States []ArtifactState
}

// AllQuorate reports whether every artifact carries two valid signatures.
func (r QuorumReport) AllQuorate() bool {
	for _, s := range r.States {
		if s.State != cosign.FullySigned {
			return false
		}
	}
	return true
}

// Unquorate returns the artifacts still short of two signatures, including
// corrupt ones.
func (r QuorumReport) Unquorate() []ArtifactState {
	var out []ArtifactState
	for _, s := range r.States {
		if s.State != cosign.FullySigned {
			out = append(out, s)
		}
	}
	return out
}

// CheckQuorum classifies a single file's signature state by dumping its
// header. The check is read-only and derived entirely from the file's
// current bytes: no state is cached between calls, so a result is only
// valid until the next signing session touches the file.
//
// A dump the tool itself fails is classified Unsigned (the file has nothing
// usable); only an unavailable tool aborts the check.
func CheckQuorum(ctx context.Context, oracle cosign.Oracle, path string) (cosign.SignatureState, []cosign.SlotInfo, error) {
	d, err := oracle.Dump(ctx, path)
	if err != nil {
		if errors.Is(err, cosign.ErrOracleUnavailable) {
			return cosign.Unsigned, nil, err
		}
		return cosign.Unsigned, nil, nil
	}
	return d.State(), d.Slots, nil
}

// CheckSetQuorum dumps every artifact in the set and reports the per-file
// states. It must be called fresh immediately before any quorum-gated
// action: another signer may have advanced (or corrupted) an artifact since
// the last check.
func CheckSetQuorum(ctx context.Context, oracle cosign.Oracle, set *Set) (QuorumReport, error) {
	var report QuorumReport
	for _, name := range set.Artifacts() {
		state, slots, err := CheckQuorum(ctx, oracle, set.OraclePath(name))
		if err != nil {
			return QuorumReport{}, fmt.Errorf("unable to check signatures on %s: %w", name, err)
		}
		report.States = append(report.States, ArtifactState{Name: name, State: state, Slots: slots})
	}
	return report, nil
}
