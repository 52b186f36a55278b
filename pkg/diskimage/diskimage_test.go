package diskimage

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Foundation-Devices/KeyOS-Releases/pkg/release"
)

// testSizes keeps test images small while staying above the FAT32 minimum
// filesystem size.
func testSizes() Sizes {
	return Sizes{Boot: 64 * mib, System: 64 * mib, User: 64 * mib}
}

func newTestSet(t *testing.T, files map[string][]byte) *release.Set {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("v1.0.2", 0755))
	defaults := map[string][]byte{
		"boot.bin":     []byte("bootloader-bytes"),
		"recovery.bin": []byte("recovery-bytes"),
		"app.bin":      []byte("main-bytes"),
	}
	for name, data := range files {
		defaults[name] = data
	}
	for name, data := range defaults {
		if data == nil {
			continue
		}
		require.NoError(t, afero.WriteFile(fsys, "v1.0.2/"+name, data, 0644))
	}
	version, err := release.ParseVersion("1.0.2")
	require.NoError(t, err)
	set, err := release.OpenSet(fsys, "/releases", version)
	require.NoError(t, err)
	return set
}

func TestComputeLayout(t *testing.T) {
	l := computeLayout(Sizes{Boot: 32 * mib, System: 10 * gib, User: 45 * gib})

	assert.Equal(t, uint32(FirstPartitionSector), l.bootStart)
	assert.Equal(t, uint32(32*mib/SectorSize), l.bootSectors)
	assert.Equal(t, l.bootStart+l.bootSectors, l.systemStart)
	assert.Equal(t, l.systemStart+l.systemSectors, l.userStart)
	assert.Equal(t, int64(FirstPartitionSector*SectorSize)+32*mib+10*gib+45*gib, l.totalBytes())
}

func TestComputeLayoutRoundsUpToSectors(t *testing.T) {
	l := computeLayout(Sizes{Boot: SectorSize + 1, System: SectorSize, User: SectorSize})
	assert.Equal(t, uint32(2), l.bootSectors)
	assert.Equal(t, uint32(1), l.systemSectors)
}

func TestAssemble(t *testing.T) {
	set := newTestSet(t, map[string][]byte{
		"apps/gui-app-a.elf": []byte("app-a-bytes"),
	})
	output := filepath.Join(t.TempDir(), "boot.img")

	var steps []string
	err := Assemble(set, output, testSizes(), func(step string) { steps = append(steps, step) })
	require.NoError(t, err)
	assert.NotEmpty(t, steps)

	d, err := diskfs.Open(output)
	require.NoError(t, err)
	defer d.Close()

	table, err := d.GetPartitionTable()
	require.NoError(t, err)
	mbrTable, ok := table.(*mbr.Table)
	require.True(t, ok, "expected an MBR partition table")

	// Reading the table back materializes all four MBR slots; only three
	// carry partitions, the rest stay empty.
	var used []*mbr.Partition
	for _, p := range mbrTable.Partitions {
		if p.Type != mbr.Empty {
			used = append(used, p)
		}
	}
	require.Len(t, used, 3)

	// Only the boot partition is bootable, and it starts at the aligned
	// first sector.
	assert.True(t, used[0].Bootable)
	assert.False(t, used[1].Bootable)
	assert.False(t, used[2].Bootable)
	assert.Equal(t, uint32(FirstPartitionSector), used[0].Start)

	l := computeLayout(testSizes())
	assert.Equal(t, l.systemStart, used[1].Start)
	assert.Equal(t, l.userStart, used[2].Start)
	for _, p := range used {
		assert.Equal(t, mbr.Fat32LBA, p.Type)
	}

	// Boot partition carries exactly the bootloader and recovery image.
	bootFS, err := d.GetFilesystem(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("bootloader-bytes"), readImageFile(t, bootFS, "/boot.bin"))
	assert.Equal(t, []byte("recovery-bytes"), readImageFile(t, bootFS, "/recovery.bin"))

	// System partition carries the main image and the applications.
	systemFS, err := d.GetFilesystem(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("main-bytes"), readImageFile(t, systemFS, "/app.bin"))
	assert.Equal(t, []byte("app-a-bytes"), readImageFile(t, systemFS, "/apps/gui-app-a.elf"))

	// User partition is formatted but empty.
	userFS, err := d.GetFilesystem(3)
	require.NoError(t, err)
	entries, err := userFS.ReadDir("/")
	require.NoError(t, err)
	for _, e := range entries {
		assert.True(t, e.IsDir(), e.Name())
	}
}

func readImageFile(t *testing.T, fs filesystem.FileSystem, path string) []byte {
	t.Helper()
	f, err := fs.OpenFile(path, os.O_RDONLY)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return data
}

func TestAssembleOverwritesPreviousImage(t *testing.T) {
	set := newTestSet(t, nil)
	output := filepath.Join(t.TempDir(), "boot.img")
	require.NoError(t, os.WriteFile(output, []byte("stale image"), 0644))

	require.NoError(t, Assemble(set, output, testSizes(), nil))

	info, err := os.Stat(output)
	require.NoError(t, err)
	assert.Equal(t, computeLayout(testSizes()).totalBytes(), info.Size())
}

func TestAssembleMissingBootloader(t *testing.T) {
	set := newTestSet(t, map[string][]byte{"boot.bin": nil})
	output := filepath.Join(t.TempDir(), "boot.img")

	err := Assemble(set, output, testSizes(), nil)
	assert.ErrorIs(t, err, release.ErrMissingArtifact)
	assert.NoFileExists(t, output)
}

// Oversized payloads are rejected before a single byte of output is
// written.
func TestAssembleOverflow(t *testing.T) {
	tests := []struct {
		name  string
		files map[string][]byte
		sizes Sizes
	}{
		{
			name:  "boot partition too small",
			files: map[string][]byte{"recovery.bin": bytes.Repeat([]byte{0xAA}, 4096)},
			sizes: Sizes{Boot: 1024, System: 64 * mib, User: 64 * mib},
		},
		{
			name:  "system partition too small",
			files: map[string][]byte{"app.bin": bytes.Repeat([]byte{0xBB}, 4096)},
			sizes: Sizes{Boot: 64 * mib, System: 1024, User: 64 * mib},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := newTestSet(t, tt.files)
			output := filepath.Join(t.TempDir(), "boot.img")

			err := Assemble(set, output, tt.sizes, nil)
			assert.ErrorIs(t, err, ErrPartitionOverflow)
			assert.NoFileExists(t, output)
		})
	}
}

func TestAssembleRejectsInvalidSizes(t *testing.T) {
	set := newTestSet(t, nil)
	output := filepath.Join(t.TempDir(), "boot.img")

	err := Assemble(set, output, Sizes{Boot: 0, System: 1, User: 1}, nil)
	assert.Error(t, err)
	assert.NoFileExists(t, output)
}
