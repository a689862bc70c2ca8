package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev" // set by the linker
var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "setpass",
	Short:         "Self-service password reset for Keystone users",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./setpass.yaml)")
	rootCmd.AddCommand(serveCmd(), provisionCmd(), configCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
