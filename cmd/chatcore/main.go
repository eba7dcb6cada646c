package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/casaflow/chatcore/chatservice"
	"github.com/casaflow/chatcore/internal/config"
)

func main() {
	var buildTarget string

	rootCmd := &cobra.Command{
		Use:   "chatcore",
		Short: "Conversation core service for the tenant assistant",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if buildTarget != "" {
				if err := os.Setenv("CHATCORE_BUILD_TARGET", buildTarget); err != nil {
					return err
				}
			}
			return chatservice.Run()
		},
	}
	serveCmd.Flags().StringVar(&buildTarget, "build-target", "", "Override CHATCORE_BUILD_TARGET (local, cloud-dev, cloud)")
	rootCmd.AddCommand(serveCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			fmt.Printf("build_target=%s db_driver=%s http_port=%d completion_url=%s memory_window=%d session_ttl=%s\n",
				cfg.BuildTarget, cfg.DBDriver, cfg.HTTPPort, cfg.CompletionURL, cfg.MemoryWindow, cfg.SessionTTL)
			return nil
		},
	}
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
