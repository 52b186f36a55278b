// Package release implements the signing coordination and packaging of one
// KeyOS firmware release: per-artifact signature quorum tracking, the
// deterministic release manifest, and assembly and signing of the release
// archive. All filesystem access goes through afero so the whole package is
// testable against an in-memory store.
package release

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/coreos/go-semver/semver"
	"github.com/spf13/afero"
)

// Fixed artifact names within a version folder.
const (
	BootName     = "boot.bin"
	RecoveryName = "recovery.bin"
	MainName     = "app.bin"
	ManifestName = "manifest.json"
	AppsDir      = "apps"

	// appGlob matches the dynamically loadable applications. Anything else
	// under apps/ is ignored.
	appGlob = "gui-app*.elf"

	// ReleaseName prefixes the assembled archive file name.
	ReleaseName = "KeyOS"
)

// Version is a validated release version. The folder on disk always carries
// the "v" prefix while the value handed to the signing tool never does.
type Version struct {
	sv semver.Version
}

// ParseVersion accepts "1.0.2" or "v1.0.2".
func ParseVersion(s string) (Version, error) {
	bare := strings.TrimPrefix(s, "v")
	sv, err := semver.NewVersion(bare)
	if err != nil {
		return Version{}, fmt.Errorf("invalid release version %q: %w", s, err)
	}
	return Version{sv: *sv}, nil
}

// Bare returns the version without the "v" prefix, e.g. "1.0.2".
func (v Version) Bare() string { return v.sv.String() }

// Folder returns the version directory name, e.g. "v1.0.2".
func (v Version) Folder() string { return "v" + v.sv.String() }

func (v Version) String() string { return v.Folder() }

// Set is one release version's collection of binaries. Recovery and Main
// always exist once a Set is opened; Apps may be empty. Artifact paths are
// relative to the version folder and ordering is fixed: recovery first,
// main second, then apps in lexicographic order.
type Set struct {
	fsys    afero.Fs
	root    string
	Version Version
	Apps    []string
}

// OpenSet validates the version folder under fsys and discovers the
// loadable applications. fsys is rooted at the releases directory; root is
// the same directory as an OS path and is only used to derive the absolute
// paths handed to the signing tool.
//
// A missing version folder, recovery image, or main image is a hard
// precondition failure: no operation in this package may proceed on a
// partial set.
func OpenSet(fsys afero.Fs, root string, version Version) (*Set, error) {
	s := &Set{fsys: fsys, root: root, Version: version}

	if ok, err := afero.DirExists(fsys, version.Folder()); err != nil {
		return nil, fmt.Errorf("unable to read releases directory: %w", err)
	} else if !ok {
		return nil, fmt.Errorf("%w: version folder %s", ErrMissingArtifact, version.Folder())
	}
	for _, name := range []string{RecoveryName, MainName} {
		if ok, err := afero.Exists(fsys, s.relPath(name)); err != nil {
			return nil, fmt.Errorf("unable to check %s: %w", name, err)
		} else if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingArtifact, s.relPath(name))
		}
	}

	apps, err := discoverApps(fsys, version.Folder())
	if err != nil {
		return nil, err
	}
	s.Apps = apps
	return s, nil
}

// discoverApps returns the loadable application images as paths relative to
// the version folder, sorted so every traversal of the set is
// deterministic.
func discoverApps(fsys afero.Fs, folder string) ([]string, error) {
	if ok, err := afero.DirExists(fsys, path.Join(folder, AppsDir)); err != nil || !ok {
		return nil, err
	}
	matches, err := doublestar.Glob(afero.NewIOFS(fsys), path.Join(folder, AppsDir, appGlob))
	if err != nil {
		return nil, fmt.Errorf("unable to scan %s/%s: %w", folder, AppsDir, err)
	}
	apps := make([]string, 0, len(matches))
	for _, m := range matches {
		apps = append(apps, path.Join(AppsDir, path.Base(m)))
	}
	sort.Strings(apps)
	return apps, nil
}

// Artifacts returns the signed binaries of the set in manifest order:
// recovery, main, then apps.
func (s *Set) Artifacts() []string {
	out := []string{RecoveryName, MainName}
	return append(out, s.Apps...)
}

// ArchiveName returns the release archive file name, e.g. "KeyOS-v1.0.2.bin".
func (s *Set) ArchiveName() string {
	return fmt.Sprintf("%s-%s.bin", ReleaseName, s.Version.Folder())
}

// relPath maps a name relative to the version folder onto the store.
func (s *Set) relPath(name string) string {
	return path.Join(s.Version.Folder(), name)
}

// OraclePath returns the absolute OS path for a set-relative name, suitable
// for handing to the external signing tool.
func (s *Set) OraclePath(name string) string {
	return filepath.Join(s.root, s.Version.Folder(), filepath.FromSlash(name))
}

// Exists reports whether a set-relative file is present.
func (s *Set) Exists(name string) (bool, error) {
	return afero.Exists(s.fsys, s.relPath(name))
}

// ReadFile returns the full contents of a set-relative file.
func (s *Set) ReadFile(name string) ([]byte, error) {
	return afero.ReadFile(s.fsys, s.relPath(name))
}

// Size returns the size in bytes of a set-relative file.
func (s *Set) Size(name string) (int64, error) {
	info, err := s.fsys.Stat(s.relPath(name))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Open opens a set-relative file for reading.
func (s *Set) Open(name string) (afero.File, error) {
	return s.fsys.Open(s.relPath(name))
}

// Fs exposes the underlying store rooted at the releases directory.
func (s *Set) Fs() afero.Fs { return s.fsys }
