// Package cmd assembles the keyos-release command tree.
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Foundation-Devices/KeyOS-Releases/internal/cmd/archive"
	"github.com/Foundation-Devices/KeyOS-Releases/internal/cmd/image"
	"github.com/Foundation-Devices/KeyOS-Releases/internal/cmd/sign"
	"github.com/Foundation-Devices/KeyOS-Releases/internal/cmd/validate"
	"github.com/Foundation-Devices/KeyOS-Releases/internal/config"
)

// Set by the build process using ldflags.
var (
	version = "unknown"
	commit  = "unknown"
)

// NewRootCmd builds the root command with all subcommands and global flags
// attached.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyos-release",
		Short: "Package and coordinate multi-party signing of KeyOS releases",
		Long: `keyos-release drives a KeyOS firmware release from built binaries to a
flashable image: collecting signatures from two independent signers on every
binary, bundling the fully signed set plus its manifest into the release
archive, signing the archive itself, and laying everything out into a
bootable disk image.

Releases live in per-version folders (v<version>/) under the releases
directory. All signing goes through the external cosign2 tool.`,
		Version:       version + " (commit: " + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	config.InitGlobalFlags(cmd)

	cmd.AddCommand(sign.NewCmd())
	cmd.AddCommand(archive.NewCmd())
	cmd.AddCommand(validate.NewCmd())
	cmd.AddCommand(image.NewCmd())

	return cmd
}

// Execute runs the command tree under the given context and returns the
// resulting error for exit code mapping.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
