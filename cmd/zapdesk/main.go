package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "zapdesk",
		Short: "WhatsApp customer-service ingestion server",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook ingestion and agent API server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}

	migrateMediaCmd := &cobra.Command{
		Use:   "migrate-media",
		Short: "Offload inline base64 media from every partition to blob storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateMedia(cmd.Context())
		},
	}

	root.AddCommand(serveCmd, migrateMediaCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
