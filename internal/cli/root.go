// Package cli assembles the sn3 command tree.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cesaregarza/splatnet3-auth/internal/appctx"
	"github.com/cesaregarza/splatnet3-auth/internal/commands"
	"github.com/cesaregarza/splatnet3-auth/internal/config"
	"github.com/cesaregarza/splatnet3-auth/internal/output"
	"github.com/cesaregarza/splatnet3-auth/internal/version"
)

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	var flags appctx.GlobalFlags

	cmd := &cobra.Command{
		Use:           "sn3",
		Short:         "Credential manager for the SplatNet 3 API",
		Long:          "sn3 derives and maintains the credential chain needed to talk to the SplatNet 3 backend.",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip setup for help and version commands
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}

			cfg, err := config.Load(config.FlagOverrides{
				FTokenURL: flags.FTokenURL,
				StoreDir:  flags.StoreDir,
				NoKeyring: flags.NoKeyring,
				LogLevel:  logLevelFromVerbose(flags.Verbose),
			})
			if err != nil {
				return err
			}

			app, err := appctx.NewApp(cfg)
			if err != nil {
				return err
			}
			app.Flags = flags

			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
	}

	cmd.Flags().SetInterspersed(true)
	cmd.PersistentFlags().SetInterspersed(true)

	cmd.PersistentFlags().BoolVarP(&flags.JSON, "json", "j", false, "Output as JSON")
	cmd.PersistentFlags().CountVarP(&flags.Verbose, "verbose", "v", "Verbose output (-v for info, -vv for debug)")
	cmd.PersistentFlags().StringVar(&flags.FTokenURL, "f-token-url", "", "Attestation provider URL(s), comma separated")
	cmd.PersistentFlags().StringVar(&flags.StoreDir, "store-dir", "", "Credential store directory")
	cmd.PersistentFlags().BoolVar(&flags.NoKeyring, "no-keyring", false, "Store credentials in a file instead of the system keyring")

	return cmd
}

// logLevelFromVerbose maps -v counts to a log level; zero means defer to
// config.
func logLevelFromVerbose(v int) string {
	switch {
	case v >= 2:
		return "debug"
	case v == 1:
		return "info"
	default:
		return ""
	}
}

// Execute runs the root command and exits with the mapped exit code on
// error.
func Execute() {
	cmd := NewRootCmd()

	cmd.AddCommand(commands.NewAuthCmd())
	cmd.AddCommand(commands.NewVersionCmd())

	if _, err := cmd.ExecuteC(); err != nil {
		err = transformCobraError(err)
		oerr := output.AsError(err)

		fmt.Fprintf(os.Stderr, "error: %s\n", oerr.Message)
		if oerr.Hint != "" {
			fmt.Fprintf(os.Stderr, "hint: %s\n", oerr.Hint)
		}
		os.Exit(oerr.ExitCode())
	}
}

// transformCobraError rewrites cobra's flag errors into the usage taxonomy
// so they exit with the usage code.
func transformCobraError(err error) error {
	msg := err.Error()

	if strings.HasPrefix(msg, "flag needs an argument: ") {
		flag := strings.TrimPrefix(msg, "flag needs an argument: ")
		return output.ErrUsage(flag + " requires a value")
	}
	if strings.HasPrefix(msg, "unknown flag: ") {
		return output.ErrUsage("unknown option: " + strings.TrimPrefix(msg, "unknown flag: "))
	}
	if strings.HasPrefix(msg, "unknown command ") {
		return output.ErrUsage(msg)
	}
	if strings.Contains(msg, "invalid argument") {
		return output.ErrUsage(msg)
	}

	return err
}
