package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "paygate",
	Short: "Payment gateway microservice",
	Long:  "A payment gateway microservice for provider checkout sessions, webhook reconciliation, and completion propagation jobs.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
