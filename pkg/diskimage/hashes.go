package diskimage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/Foundation-Devices/KeyOS-Releases/pkg/cosign"
	"github.com/Foundation-Devices/KeyOS-Releases/pkg/release"
)

// ComponentHash is the SHA-256 of one image component. For signed
// components the digest covers the bytes after the signature header, so it
// matches the digest of the binary as originally built.
type ComponentHash struct {
	Name           string
	Digest         string
	HeaderStripped bool
}

// Hashes digests every component that ends up on the image: the bootloader
// (never signed, hashed whole), then the signed artifacts with their
// headers stripped. Files too small to carry a header are hashed whole.
func Hashes(set *release.Set) ([]ComponentHash, error) {
	if ok, err := set.Exists(release.BootName); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %s", release.ErrMissingArtifact, release.BootName)
	}

	out := make([]ComponentHash, 0, 2+len(set.Apps))

	boot, err := set.ReadFile(release.BootName)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", release.BootName, err)
	}
	sum := sha256.Sum256(boot)
	out = append(out, ComponentHash{Name: release.BootName, Digest: hex.EncodeToString(sum[:])})

	for _, name := range set.Artifacts() {
		data, err := set.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("unable to read %s: %w", name, err)
		}
		h := ComponentHash{Name: name}
		if len(data) > cosign.HeaderSize {
			sum := sha256.Sum256(data[cosign.HeaderSize:])
			h.Digest = hex.EncodeToString(sum[:])
			h.HeaderStripped = true
		} else {
			sum := sha256.Sum256(data)
			h.Digest = hex.EncodeToString(sum[:])
		}
		out = append(out, h)
	}
	return out, nil
}
