package diskimage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Foundation-Devices/KeyOS-Releases/pkg/cosign"
	"github.com/Foundation-Devices/KeyOS-Releases/pkg/release"
)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// withHeader prepends a dummy cosign2 signature header to the payload.
func withHeader(payload []byte) []byte {
	return append(bytes.Repeat([]byte{0x5A}, cosign.HeaderSize), payload...)
}

func TestHashes(t *testing.T) {
	recovery := withHeader([]byte("recovery-payload"))
	main := withHeader([]byte("main-payload"))
	app := withHeader([]byte("app-payload"))
	set := newTestSet(t, map[string][]byte{
		"recovery.bin":       recovery,
		"app.bin":            main,
		"apps/gui-app-a.elf": app,
	})

	hashes, err := Hashes(set)
	require.NoError(t, err)
	require.Len(t, hashes, 4)

	// The bootloader is never signed and is hashed whole.
	assert.Equal(t, ComponentHash{
		Name:   "boot.bin",
		Digest: sha256Hex([]byte("bootloader-bytes")),
	}, hashes[0])

	// Signed artifacts are hashed with the header stripped, so the digest
	// matches the binary as originally built.
	assert.Equal(t, ComponentHash{
		Name:           "recovery.bin",
		Digest:         sha256Hex([]byte("recovery-payload")),
		HeaderStripped: true,
	}, hashes[1])
	assert.Equal(t, ComponentHash{
		Name:           "app.bin",
		Digest:         sha256Hex([]byte("main-payload")),
		HeaderStripped: true,
	}, hashes[2])
	assert.Equal(t, ComponentHash{
		Name:           "apps/gui-app-a.elf",
		Digest:         sha256Hex([]byte("app-payload")),
		HeaderStripped: true,
	}, hashes[3])
}

// Files too small to carry a header are hashed whole, flagged so the
// command layer can call it out.
func TestHashesUnsignedArtifact(t *testing.T) {
	set := newTestSet(t, nil)

	hashes, err := Hashes(set)
	require.NoError(t, err)
	require.Len(t, hashes, 3)

	assert.False(t, hashes[1].HeaderStripped)
	assert.Equal(t, sha256Hex([]byte("recovery-bytes")), hashes[1].Digest)
}

func TestHashesMissingBootloader(t *testing.T) {
	set := newTestSet(t, map[string][]byte{"boot.bin": nil})

	_, err := Hashes(set)
	assert.ErrorIs(t, err, release.ErrMissingArtifact)
}
