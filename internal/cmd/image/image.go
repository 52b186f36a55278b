// Package image holds the "image create" and "image hashes" commands for
// building the flashable disk image and auditing component digests.
package image

import (
	"fmt"

	"github.com/dsnet/golib/unitconv"
	"github.com/spf13/cobra"

	"github.com/Foundation-Devices/KeyOS-Releases/internal/cmdfmt"
	"github.com/Foundation-Devices/KeyOS-Releases/pkg/config"
	"github.com/Foundation-Devices/KeyOS-Releases/pkg/diskimage"
	"github.com/Foundation-Devices/KeyOS-Releases/pkg/release"
)

// NewCmd creates the "image" command group.
func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Build and inspect the flashable disk image",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(newCreateCmd())
	cmd.AddCommand(newHashesCmd())
	return cmd
}

type createConfig struct {
	Output     string
	BootSize   string
	SystemSize string
	UserSize   string
}

func newCreateCmd() *cobra.Command {
	cfg := createConfig{}
	defaults := diskimage.DefaultSizes()

	cmd := &cobra.Command{
		Use:   "create <version>",
		Short: "Lay the release out into a bootable three-partition disk image",
		Long: `Create builds a raw disk image with an MBR partition table and three FAT32
partitions: a bootable boot partition carrying the bootloader and recovery
image, a system partition carrying the main image and loadable applications,
and an empty user partition. The image is rebuilt from scratch on every run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreateCmd(cmd, args[0], cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.Output, "output", "o", "boot.img", "Output image file name.")
	cmd.Flags().StringVar(&cfg.BootSize, "boot-size", unitconv.FormatPrefix(float64(defaults.Boot), unitconv.IEC, 0),
		"Boot partition size (accepts SI/IEC prefixes, e.g. 32Mi).")
	cmd.Flags().StringVar(&cfg.SystemSize, "system-size", unitconv.FormatPrefix(float64(defaults.System), unitconv.IEC, 0),
		"System partition size.")
	cmd.Flags().StringVar(&cfg.UserSize, "user-size", unitconv.FormatPrefix(float64(defaults.User), unitconv.IEC, 0),
		"User partition size.")

	return cmd
}

func runCreateCmd(cmd *cobra.Command, versionArg string, cfg createConfig) error {
	set, err := openSet(versionArg)
	if err != nil {
		return err
	}

	sizes, err := parseSizes(cfg)
	if err != nil {
		return err
	}

	cmdfmt.Printf("Creating disk image for version %s\n", set.Version.Bare())
	cmdfmt.Printf("Partitions: boot=%sB system=%sB user=%sB\n",
		unitconv.FormatPrefix(float64(sizes.Boot), unitconv.IEC, 1),
		unitconv.FormatPrefix(float64(sizes.System), unitconv.IEC, 1),
		unitconv.FormatPrefix(float64(sizes.User), unitconv.IEC, 1))

	err = diskimage.Assemble(set, cfg.Output, sizes, func(step string) {
		cmdfmt.Printf("  %s\n", step)
	})
	if err != nil {
		return err
	}

	cmdfmt.Printf("%s %s created successfully\n", cmdfmt.OK(), cfg.Output)
	return nil
}

func parseSizes(cfg createConfig) (diskimage.Sizes, error) {
	parse := func(flag, value string) (int64, error) {
		v, err := unitconv.ParsePrefix(value, unitconv.AutoParse)
		if err != nil {
			return 0, fmt.Errorf("invalid --%s value %q: %w", flag, value, err)
		}
		return int64(v), nil
	}
	var sizes diskimage.Sizes
	var err error
	if sizes.Boot, err = parse("boot-size", cfg.BootSize); err != nil {
		return sizes, err
	}
	if sizes.System, err = parse("system-size", cfg.SystemSize); err != nil {
		return sizes, err
	}
	if sizes.User, err = parse("user-size", cfg.UserSize); err != nil {
		return sizes, err
	}
	return sizes, nil
}

func newHashesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hashes <version>",
		Short: "Print SHA256 hashes of all image components",
		Long: `Hashes prints the SHA256 digest of every binary that ends up on the disk
image. For signed binaries the digest covers the bytes after the cosign2
header so it matches the digest of the binary as originally built.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHashesCmd(cmd, args[0])
		},
	}
}

func runHashesCmd(cmd *cobra.Command, versionArg string) error {
	set, err := openSet(versionArg)
	if err != nil {
		return err
	}

	cmdfmt.Printf("SHA256 hashes for version %s (cosign2 header stripped where present)\n", set.Version.Bare())
	hashes, err := diskimage.Hashes(set)
	if err != nil {
		return err
	}
	for _, h := range hashes {
		if h.Name != release.BootName && !h.HeaderStripped {
			cmdfmt.Printf("%-30s - %s (no cosign2 header)\n", h.Name, h.Digest)
		} else {
			cmdfmt.Printf("%-30s - %s\n", h.Name, h.Digest)
		}
	}
	return nil
}

func openSet(versionArg string) (*release.Set, error) {
	version, err := release.ParseVersion(versionArg)
	if err != nil {
		return nil, err
	}
	fsys, root, err := config.ReleaseStore()
	if err != nil {
		return nil, err
	}
	return release.OpenSet(fsys, root, version)
}
