package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "geocache-proxy",
		Short: "Caching proxy for the geocoding web service",
		Long:  "Serve /maps/api/* read-through from Redis, fetching misses from the upstream geocoding service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(warmCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
