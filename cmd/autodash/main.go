package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	serverAddr string
)

var rootCmd = &cobra.Command{
	Use:   "autodash",
	Short: "Turn notebooks into running dashboards",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.autodash/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "", "server address for client commands (default from config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
