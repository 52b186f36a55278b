package release

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// FileEntry is one artifact's name and content hash in the manifest. The
// hash is SHA-256 over the full file bytes including the signature header,
// so the manifest pins the exact signed binaries.
type FileEntry struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
}

// Manifest describes every artifact of a release in a fixed order:
// recovery image, main image, then loadable applications.
type Manifest struct {
	Version string      `json:"version"`
	Files   []FileEntry `json:"files"`
}

// BuildManifest hashes every artifact in set order. It is a pure function
// of the artifacts' names and bytes: identical inputs produce an identical
// Manifest, and Encode produces identical bytes.
func BuildManifest(set *Set) (Manifest, error) {
	m := Manifest{Version: set.Version.Folder()}
	for _, name := range set.Artifacts() {
		hash, err := hashArtifact(set, name)
		if err != nil {
			return Manifest{}, err
		}
		m.Files = append(m.Files, FileEntry{Name: name, Hash: hash})
	}
	return m, nil
}

// Encode renders the manifest as indented JSON with a trailing newline.
// Field order is fixed by the struct definitions, so repeated encodings of
// the same manifest are byte-identical.
func (m Manifest) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("unable to encode manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteManifest builds the manifest and writes it as manifest.json in the
// version folder, replacing any previous one.
func WriteManifest(set *Set) (Manifest, error) {
	m, err := BuildManifest(set)
	if err != nil {
		return Manifest{}, err
	}
	data, err := m.Encode()
	if err != nil {
		return Manifest{}, err
	}
	if err := writeFileAtomic(set.fsys, set.relPath(ManifestName), data); err != nil {
		return Manifest{}, fmt.Errorf("unable to write %s: %w", ManifestName, err)
	}
	return m, nil
}

func hashArtifact(set *Set, name string) (string, error) {
	f, err := set.Open(name)
	if err != nil {
		return "", fmt.Errorf("unable to open %s for hashing: %w", name, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("unable to hash %s: %w", name, err)
	}
	return "0x" + hex.EncodeToString(h.Sum(nil)), nil
}
