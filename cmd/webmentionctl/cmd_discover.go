package main

import (
	"fmt"

	"github.com/dshanske/wordpress-webmention/internal/discovery"
	"github.com/spf13/cobra"
)

var discoverCmd = &cobra.Command{
	Use:   "discover <target-url>",
	Short: "Show the webmention endpoint a page advertises",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiscover,
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, client, err := loadClient()
	if err != nil {
		return err
	}

	result := discovery.NewDiscoverer(client, cfg.MediaBaseURL).Discover(cmd.Context(), args[0])
	out := cmd.OutOrStdout()
	if !result.Found() {
		fmt.Fprintf(out, "No webmention endpoint found for %s\n", args[0])
		return nil
	}

	fmt.Fprintf(out, "Endpoint: %s\n", result.Endpoint)
	fmt.Fprintf(out, "Via:      %s\n", result.Via)
	return nil
}
