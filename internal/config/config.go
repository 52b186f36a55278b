package config

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Foundation-Devices/KeyOS-Releases/pkg/config"
)

// This package handles the global command line tool config - the global
// flags, environment variable bindings and config file handling.

// InitGlobalFlags defines all the global flags and binds them to viper.
func InitGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().Bool(config.DebugKey, false, "Print additional details that are normally hidden.")

	cmd.PersistentFlags().String(config.ReleasesDirKey, ".", "The directory containing the per-version release folders (v<version>/).")

	cmd.PersistentFlags().String(config.SignerConfigKey, config.DefaultSignerConfig, "Path to the cosign2 configuration file holding this signer's key reference.")

	cmd.PersistentFlags().String(config.CosignBinKey, "", "Path to the cosign2 binary. Defaults to looking up 'cosign2' in PATH.")

	cmd.PersistentFlags().Bool(config.DisableEmojisKey, false, "If emojis should be omitted throughout various output.")

	cmd.PersistentFlags().Bool(config.PrintJsonKey, false, "Print structured output as JSON instead of a table.")

	cmd.PersistentFlags().Int8(config.LogLevelKey, 0, "By default all logging is disabled except for fatal errors.\nOptionally additional logging to stderr can be enabled to assist with debugging (0=Fatal, 1=Error, 2=Warn, 3=Info, 4+5=Debug).")

	cmd.PersistentFlags().String(config.LogFileKey, "", "Send log messages to this file (rotated) instead of stderr.")

	// Environment variables should start with KEYOS_
	viper.SetEnvPrefix("keyos")
	// Environment variables cannot use "-", replace with "_"
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Bind all persistent pflags to viper
	cmd.PersistentFlags().VisitAll(func(flag *pflag.Flag) {
		viper.BindEnv(flag.Name)
		viper.BindPFlag(flag.Name, flag)
	})
}

func Cleanup() {
	config.Cleanup()
}
