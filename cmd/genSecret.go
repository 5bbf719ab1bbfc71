package cmd

import (
	"fmt"

	"github.com/jcoop32/applied/utils"
	"github.com/spf13/cobra"
)

var GenSecretCmd = &cobra.Command{
	Use:   "gen-secret",
	Short: "Generate a worker secret",
	Long:  `Generate a random secret suitable for WORKER_SECRET. Configure the same value on the dispatching service and every runner.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(utils.GenerateSecret())
	},
}

func init() {
	RootCmd.AddCommand(GenSecretCmd)
}
