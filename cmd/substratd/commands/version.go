package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the substratd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("substratd %s (%s)\n", Version, BuildTime)
	},
}
