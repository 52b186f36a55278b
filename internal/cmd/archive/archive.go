// Package archive holds the "archive create" and "archive sign" commands:
// quorum-gated assembly of the release archive and the archive-level
// signing session.
package archive

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Foundation-Devices/KeyOS-Releases/internal/cmdfmt"
	"github.com/Foundation-Devices/KeyOS-Releases/pkg/config"
	"github.com/Foundation-Devices/KeyOS-Releases/pkg/cosign"
	"github.com/Foundation-Devices/KeyOS-Releases/pkg/release"
)

// NewCmd creates the "archive" command group.
func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Assemble and sign the release archive",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(newCreateCmd())
	cmd.AddCommand(newSignCmd())
	return cmd
}

func newCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <version>",
		Short: "Bundle all fully signed binaries plus the manifest into the release archive",
		Long: `Create re-checks the signatures on every binary of the release and, only if
each one carries two valid signatures, generates the manifest and bundles
everything into the release archive. The archive is rebuilt from scratch on
every run; assembly is deterministic so identical inputs reproduce identical
bytes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreateCmd(cmd, args[0])
		},
	}
}

func runCreateCmd(cmd *cobra.Command, versionArg string) error {
	set, err := openSet(versionArg)
	if err != nil {
		return err
	}

	cmdfmt.Printf("Creating release archive for version %s\n", set.Version.Bare())
	cmdfmt.Printf("Checking signatures on all files...\n")

	// The archive is always rebuilt; remember the previous bytes so a
	// replaced archive can be called out.
	prev, prevErr := set.ReadFile(set.ArchiveName())

	name, err := release.CreateArchive(cmd.Context(), config.Oracle(), set)
	if err != nil {
		var quorumErr *release.QuorumError
		if errors.As(err, &quorumErr) {
			cmdfmt.Printf("%s Some files don't have two signatures\n", cmdfmt.Fail())
			cmdfmt.Printf("The following files need more signatures:\n")
			for _, s := range quorumErr.Report.Unquorate() {
				cmdfmt.Printf("  - %s (%s)\n", s.Name, s.State)
			}
		}
		return err
	}

	cmdfmt.Printf("%s All files have two signatures\n", cmdfmt.OK())
	cmdfmt.Printf("%s Manifest generated\n", cmdfmt.OK())
	cmdfmt.Printf("%s Created %s\n", cmdfmt.OK(), name)

	if prevErr == nil {
		if cur, err := set.ReadFile(name); err == nil && !bytes.Equal(prev, cur) {
			cmdfmt.Printf("%s Replaced a previous archive with different contents; any signatures on it are discarded\n", cmdfmt.Warn())
		}
	}
	return nil
}

func newSignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign <version>",
		Short: "Add this signer's signature to the release archive",
		Long: `Sign adds one signature to the assembled release archive. Like per-file
signing, running it as two different signers brings the archive to quorum.
Once the archive carries two signatures further runs only report its state
without invoking cosign2 again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignCmd(cmd, args[0])
		},
	}
}

func runSignCmd(cmd *cobra.Command, versionArg string) error {
	set, err := openSet(versionArg)
	if err != nil {
		return err
	}

	signer := cosign.Signer{
		ConfigPath:      config.SignerConfigPath(),
		FirmwareVersion: set.Version.Bare(),
	}

	cmdfmt.Printf("Signing release archive for version %s\n", set.Version.Bare())
	cmdfmt.Printf("Checking existing signatures on %s...\n", set.ArchiveName())

	result, err := release.SignArchive(cmd.Context(), config.Oracle(), set, signer)
	if err != nil {
		return err
	}

	switch result.Before {
	case cosign.Unsigned:
		cmdfmt.Printf("%s Archive had no signature header. Added first signature.\n", cmdfmt.Info())
	case cosign.PartiallySigned:
		cmdfmt.Printf("%s Archive had one signature. Added second signature.\n", cmdfmt.Info())
	case cosign.FullySigned:
		cmdfmt.Printf("%s Archive already has two signatures. No more signatures can be added.\n", cmdfmt.OK())
	}
	for _, slot := range result.Slots {
		cmdfmt.Printf("  signature%d: %s", slot.Index, slot.Signature)
		if slot.KeyID != "" {
			cmdfmt.Printf(" (key %s)", slot.KeyID)
		}
		cmdfmt.Printf("\n")
	}
	cmdfmt.Printf("%s Archive is %s\n", cmdfmt.OK(), result.After)
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
	set, err := release.OpenSet(fsys, root, version)
	if err != nil {
		return nil, fmt.Errorf("unable to open release %s: %w", version, err)
	}
	return set, nil
}
