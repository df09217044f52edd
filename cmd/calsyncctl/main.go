package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	apiFlag    string
	userFlag   string
	outputFlag string
	rootCmd    = &cobra.Command{
		Use:   "calsyncctl",
		Short: "CLI client for the calendar sync REST API",
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&apiFlag, "api", "a", "http://localhost:8080", "Calendar sync service base URL")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "User ID")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "yaml", "Output format: yaml or json")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func requireUser() error {
	if userFlag == "" {
		return fmt.Errorf("--user required")
	}
	return nil
}
