// Package cosign wraps the external cosign2 signing tool behind a typed
// Oracle interface. The tool owns the signature header format (a fixed
// 0x800 byte header with two signature slots); this package only inspects
// and advances it, never repairs it.
package cosign

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// ErrOracleUnavailable indicates the cosign2 binary is missing or could not
// be executed at all, as opposed to cosign2 running and rejecting the input.
var ErrOracleUnavailable = errors.New("signing tool unavailable")

// HeaderSize is the size of the cosign2 signature header prepended to signed
// binaries. Content digests for signed artifacts are computed over the bytes
// after this header.
const HeaderSize = 0x800

// SignatureState classifies how far an artifact has progressed towards the
// two-signature quorum.
type SignatureState int

const (
	// Unsigned means the file carries no signature header at all.
	Unsigned SignatureState = iota
	// PartiallySigned means slot 1 holds a signature and slot 2 is empty.
	PartiallySigned
	// FullySigned means both slots hold non-zero signatures (quorum).
	FullySigned
	// HeaderCorrupt means slot 1 is empty while slot 2 is not. Slots must
	// be filled in order so this never occurs through normal signing.
	HeaderCorrupt
)

func (s SignatureState) String() string {
	switch s {
	case Unsigned:
		return "unsigned"
	case PartiallySigned:
		return "partially-signed"
	case FullySigned:
		return "fully-signed"
	case HeaderCorrupt:
		return "header-corrupt"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Dump is the typed result of inspecting a file's signature header. It
// replaces the original flow of re-parsing cosign2's text output at every
// call site with a single classification in State().
type Dump struct {
	// HasHeader is false when cosign2 reports no signature header.
	HasHeader bool
	// Slot1Zero and Slot2Zero report whether the respective signature slot
	// holds the all-zero sentinel (i.e. is unfilled).
	Slot1Zero bool
	Slot2Zero bool
	// Slots carries the raw per-slot metadata lines from the tool for audit
	// output. May be empty for adapters that do not expose it.
	Slots []SlotInfo
}

// SlotInfo echoes one signature slot as reported by the tool.
type SlotInfo struct {
	Index     int
	Signature string
	KeyID     string
}

// State applies the classification rules in order, first match wins:
//
//  1. no header            -> Unsigned
//  2. slot 2 all-zero      -> PartiallySigned
//  3. slot 1 all-zero      -> HeaderCorrupt
//  4. both slots non-zero  -> FullySigned
//
// A failed dump call is classified as Unsigned by the caller (see
// Oracle.Dump).
func (d Dump) State() SignatureState {
	switch {
	case !d.HasHeader:
		return Unsigned
	case d.Slot2Zero:
		return PartiallySigned
	case d.Slot1Zero:
		return HeaderCorrupt
	default:
		return FullySigned
	}
}

// Signer identifies one signing session: which key configuration to use and
// the firmware version embedded into the signature header.
type Signer struct {
	// ConfigPath is the cosign2 TOML configuration holding the key material
	// reference. The file is owned and validated by cosign2 itself.
	ConfigPath string
	// FirmwareVersion is the bare semantic version (no "v" prefix).
	FirmwareVersion string
}

// Oracle is the external signing tool. Dump is read-only. Sign mutates the
// file in place, filling the first empty signature slot; cosign2 performs
// the replacement atomically (write + rename) so an interrupted sign never
// leaves a half-written artifact. Rejecting a third signature is the tool's
// responsibility, not the caller's.
type Oracle interface {
	Dump(ctx context.Context, path string) (Dump, error)
	Sign(ctx context.Context, path string, signer Signer) error
}

// SignerIdentity is the subset of the cosign2 configuration worth echoing in
// logs and validation output.
type SignerIdentity struct {
	Name   string `toml:"key_name"`
	PubKey string `toml:"public_key"`
}

// LoadSignerIdentity reads the signer name and public key reference from a
// cosign2 TOML configuration. Errors are returned so callers can log them,
// but signing does not depend on this succeeding: cosign2 parses its own
// config.
func LoadSignerIdentity(path string) (SignerIdentity, error) {
	var id SignerIdentity
	data, err := os.ReadFile(path)
	if err != nil {
		return id, fmt.Errorf("unable to read signer config: %w", err)
	}
	if err := toml.Unmarshal(data, &id); err != nil {
		return id, fmt.Errorf("unable to parse signer config %s: %w", path, err)
	}
	return id, nil
}
