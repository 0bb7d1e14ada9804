package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"bussid/internal/domain"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "bussid-worker %s (commit %s)\n", Version, Commit)
		fmt.Fprintf(cmd.OutOrStdout(), "worker generation %s, cache store %s\n",
			domain.DefaultGeneration, domain.Generation(domain.DefaultGeneration).CacheName())
	},
}
