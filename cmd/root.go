package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"chatgate/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "chatgate",
	Short: "Edge chat gateway",
	Long:  "Chatgate fronts a chat UI with a model catalog, a shared daily quota, and dispatch to Gemini, Workers AI, and OpenAI-compatible backends.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print chatgate version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Detailed("chatgate"))
		},
	})
}
