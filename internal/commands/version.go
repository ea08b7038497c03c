package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cesaregarza/splatnet3-auth/internal/version"
)

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version.Full())
			return nil
		},
	}
}
