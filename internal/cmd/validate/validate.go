package validate

import (
	"github.com/spf13/cobra"

	"github.com/Foundation-Devices/KeyOS-Releases/internal/cmdfmt"
	"github.com/Foundation-Devices/KeyOS-Releases/internal/util"
	"github.com/Foundation-Devices/KeyOS-Releases/pkg/config"
	"github.com/Foundation-Devices/KeyOS-Releases/pkg/cosign"
	"github.com/Foundation-Devices/KeyOS-Releases/pkg/release"
)

// NewCmd creates the "validate" command.
func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <version>",
		Short: "Report the signature state of every release binary",
		Long: `Validate dumps the signature header of every binary in the release and
prints the per-file state without changing anything. It exits non-zero
unless every file carries two valid signatures, so it can gate scripted
release steps.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidateCmd(cmd, args[0])
		},
	}
	return cmd
}

func runValidateCmd(cmd *cobra.Command, versionArg string) error {
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

	report, err := release.CheckSetQuorum(cmd.Context(), config.Oracle(), set)
	if err != nil {
		return err
	}

	printer := cmdfmt.NewPrinter([]string{"file", "state", "signatures"})
	for _, s := range report.States {
		printer.AppendRow([]any{s.Name, s.State.String(), len(s.Slots)})
	}
	cmdfmt.Printf("%s\n", printer.Render())

	// Also report the archive if it has been assembled already.
	if ok, err := set.Exists(set.ArchiveName()); err == nil && ok {
		state, _, err := release.CheckQuorum(cmd.Context(), config.Oracle(), set.OraclePath(set.ArchiveName()))
		if err != nil {
			return err
		}
		cmdfmt.Printf("Archive %s is %s\n", set.ArchiveName(), state)
	}

	if !report.AllQuorate() {
		corrupt := false
		for _, s := range report.Unquorate() {
			if s.State == cosign.HeaderCorrupt {
				corrupt = true
				cmdfmt.Printf("%s %s has a corrupt signature header and must be rebuilt\n", cmdfmt.Fail(), s.Name)
			}
		}
		if corrupt {
			// Corruption is the more actionable failure class than the
			// quorum shortfall it also causes.
			return util.NewCtlError(&release.QuorumError{Report: report}, util.CorruptSignatureHeader)
		}
		return &release.QuorumError{Report: report}
	}
	cmdfmt.Printf("%s All files have two signatures\n", cmdfmt.OK())
	return nil
}
