// Package diskimage lays a signed release out into a flashable disk image:
// an MBR partition table with three FAT32 partitions (boot, system, user),
// the bootloader and recovery image on the boot partition, the main image
// and loadable applications on the system partition, and an empty formatted
// user partition.
package diskimage

import (
	"errors"
	"fmt"
	"io"
	"os"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/partition/mbr"

	"github.com/Foundation-Devices/KeyOS-Releases/pkg/release"
)

// ErrPartitionOverflow means the files destined for a partition do not fit
// within its configured size.
var ErrPartitionOverflow = errors.New("partition capacity exceeded")

const (
	// SectorSize is the logical sector size of the target eMMC.
	SectorSize = 512
	// FirstPartitionSector leaves the customary 1MiB alignment gap after
	// the partition table.
	FirstPartitionSector = 2048

	bootVolumeLabel   = "KEYOSBOOT"
	systemVolumeLabel = "PRIME"
	userVolumeLabel   = "USERDATA"
)

const (
	mib = 1 << 20
	gib = 1 << 30
)

// Sizes configures the three partition sizes in bytes. Values are rounded
// up to whole sectors.
type Sizes struct {
	Boot   int64
	System int64
	User   int64
}

// DefaultSizes matches the reference device sizing.
func DefaultSizes() Sizes {
	return Sizes{
		Boot:   32 * mib,
		System: 10 * gib,
		User:   45 * gib,
	}
}

func (s Sizes) validate() error {
	if s.Boot <= 0 || s.System <= 0 || s.User <= 0 {
		return fmt.Errorf("partition sizes must be positive (boot=%d system=%d user=%d)", s.Boot, s.System, s.User)
	}
	return nil
}

// layout is the computed sector geometry for one image.
type layout struct {
	bootStart, bootSectors     uint32
	systemStart, systemSectors uint32
	userStart, userSectors     uint32
}

func computeLayout(sizes Sizes) layout {
	toSectors := func(bytes int64) uint32 {
		return uint32((bytes + SectorSize - 1) / SectorSize)
	}
	l := layout{
		bootStart:     FirstPartitionSector,
		bootSectors:   toSectors(sizes.Boot),
		systemSectors: toSectors(sizes.System),
		userSectors:   toSectors(sizes.User),
	}
	l.systemStart = l.bootStart + l.bootSectors
	l.userStart = l.systemStart + l.systemSectors
	return l
}

// totalBytes is the full image size: alignment gap plus the three
// partitions.
func (l layout) totalBytes() int64 {
	return int64(l.userStart+l.userSectors) * SectorSize
}

// ProgressFunc receives a short description of each assembly step.
type ProgressFunc func(step string)

// Assemble builds the disk image for the set at the output path. The image
// is rebuilt from scratch on every call (overwrite, never additive).
//
// All preconditions are checked before a single byte is written: the
// bootloader must exist (recovery and main images are guaranteed by the
// set) and every partition's payload must fit. A failed precondition
// leaves no partial image behind.
func Assemble(set *release.Set, output string, sizes Sizes, progress ProgressFunc) error {
	if err := sizes.validate(); err != nil {
		return err
	}
	report := func(step string) {
		if progress != nil {
			progress(step)
		}
	}

	if ok, err := set.Exists(release.BootName); err != nil {
		return fmt.Errorf("unable to check %s: %w", release.BootName, err)
	} else if !ok {
		return fmt.Errorf("%w: %s (required for the bootloader)", release.ErrMissingArtifact, release.BootName)
	}

	bootFiles := []string{release.BootName, release.RecoveryName}
	systemFiles := append([]string{release.MainName}, set.Apps...)
	if err := checkCapacity(set, "boot", bootFiles, sizes.Boot); err != nil {
		return err
	}
	if err := checkCapacity(set, "system", systemFiles, sizes.System); err != nil {
		return err
	}

	l := computeLayout(sizes)

	// diskfs.Create refuses to reuse an existing file, so drop any previous
	// image first to get overwrite semantics.
	if err := os.Remove(output); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unable to replace %s: %w", output, err)
	}

	report(fmt.Sprintf("allocating %s", output))
	d, err := diskfs.Create(output, l.totalBytes(), diskfs.Raw, diskfs.SectorSizeDefault)
	if err != nil {
		return fmt.Errorf("unable to create image file: %w", err)
	}
	defer d.Close()

	report("writing partition table")
	table := &mbr.Table{
		LogicalSectorSize:  SectorSize,
		PhysicalSectorSize: SectorSize,
		Partitions: []*mbr.Partition{
			{Bootable: true, Type: mbr.Fat32LBA, Start: l.bootStart, Size: l.bootSectors},
			{Bootable: false, Type: mbr.Fat32LBA, Start: l.systemStart, Size: l.systemSectors},
			{Bootable: false, Type: mbr.Fat32LBA, Start: l.userStart, Size: l.userSectors},
		},
	}
	if err := d.Partition(table); err != nil {
		return fmt.Errorf("unable to write partition table: %w", err)
	}

	report("formatting boot partition")
	bootFS, err := formatPartition(d, 1, bootVolumeLabel)
	if err != nil {
		return err
	}
	for _, name := range bootFiles {
		if err := copyIn(set, bootFS, name, "/"+name); err != nil {
			return err
		}
	}

	report("formatting system partition")
	systemFS, err := formatPartition(d, 2, systemVolumeLabel)
	if err != nil {
		return err
	}
	if err := copyIn(set, systemFS, release.MainName, "/"+release.MainName); err != nil {
		return err
	}
	if len(set.Apps) > 0 {
		if err := systemFS.Mkdir("/" + release.AppsDir); err != nil {
			return fmt.Errorf("unable to create %s directory: %w", release.AppsDir, err)
		}
		for _, app := range set.Apps {
			if err := copyIn(set, systemFS, app, "/"+app); err != nil {
				return err
			}
		}
	}

	// The user partition only carries an empty filesystem.
	report("formatting user partition")
	if _, err := formatPartition(d, 3, userVolumeLabel); err != nil {
		return err
	}

	return nil
}

// checkCapacity sums the payload destined for a partition and fails before
// any output is written when it cannot fit.
func checkCapacity(set *release.Set, partition string, files []string, capacity int64) error {
	var total int64
	for _, name := range files {
		size, err := set.Size(name)
		if err != nil {
			return fmt.Errorf("unable to stat %s: %w", name, err)
		}
		total += size
	}
	if total > capacity {
		return fmt.Errorf("%w: %s partition needs %d bytes for %d files but is sized %d",
			ErrPartitionOverflow, partition, total, len(files), capacity)
	}
	return nil
}

func formatPartition(d *disk.Disk, partition int, label string) (filesystem.FileSystem, error) {
	fs, err := d.CreateFilesystem(disk.FilesystemSpec{
		Partition:   partition,
		FSType:      filesystem.TypeFat32,
		VolumeLabel: label,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to format partition %d (%s): %w", partition, label, err)
	}
	return fs, nil
}

func copyIn(set *release.Set, fs filesystem.FileSystem, name, target string) error {
	src, err := set.Open(name)
	if err != nil {
		return fmt.Errorf("unable to open %s: %w", name, err)
	}
	defer src.Close()

	dst, err := fs.OpenFile(target, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return fmt.Errorf("unable to create %s on image: %w", target, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("unable to copy %s onto image: %w", name, err)
	}
	return nil
}
