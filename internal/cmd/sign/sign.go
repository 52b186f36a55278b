package sign

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Foundation-Devices/KeyOS-Releases/internal/cmdfmt"
	"github.com/Foundation-Devices/KeyOS-Releases/pkg/config"
	"github.com/Foundation-Devices/KeyOS-Releases/pkg/cosign"
	"github.com/Foundation-Devices/KeyOS-Releases/pkg/release"
)

// NewCmd creates the "sign" command.
func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign <version>",
		Short: "Add this signer's signature to every release binary",
		Long: `Sign runs one signing session over the recovery image, main image, and any
loadable applications of the given release version. Each file is handed to
cosign2 which fills its first empty signature slot, so running this command
as two different signers (in any order, from any machine) progresses every
file from unsigned to fully signed. cosign2 itself refuses a third
signature.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignCmd(cmd, args[0])
		},
	}
	return cmd
}

func runSignCmd(cmd *cobra.Command, versionArg string) error {
	log, _ := config.GetLogger()

	version, err := release.ParseVersion(versionArg)
	if err != nil {
		return err
	}

	fsys, root, err := config.ReleaseStore()
	if err != nil {
		return err
	}
	set, err := release.OpenSet(fsys, root, version)
	if err != nil {
		return err
	}

	signer := cosign.Signer{
		ConfigPath:      config.SignerConfigPath(),
		FirmwareVersion: version.Bare(),
	}
	if id, err := cosign.LoadSignerIdentity(signer.ConfigPath); err != nil {
		log.Debug("unable to load signer identity for display, continuing", zap.Error(err))
	} else if id.Name != "" {
		cmdfmt.Printf("Signing as %q\n", id.Name)
	}

	cmdfmt.Printf("Signing files for version %s\n", version.Bare())
	if len(set.Apps) > 0 {
		cmdfmt.Printf("Found %d dynamically loadable apps\n", len(set.Apps))
	} else {
		cmdfmt.Printf("No dynamically loadable apps found\n")
	}

	err = release.SignFiles(cmd.Context(), config.Oracle(), set, signer, release.Progress{
		Start: func(name string) { cmdfmt.Printf("Signing %s...", name) },
		Done:  func(name string) { cmdfmt.Printf(" %s\n", cmdfmt.OK()) },
	})
	if err != nil {
		cmdfmt.Printf(" %s Failed to sign\n", cmdfmt.Fail())
		return err
	}

	cmdfmt.Printf("%s Signing complete for version %s\n", cmdfmt.OK(), version.Bare())
	return nil
}
