package main

import (
	"fmt"

	"github.com/dshanske/wordpress-webmention/internal/receiver"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <source-url> <target-url>",
	Short: "Check that a source page links to a target the way the receiver does",
	Args:  cobra.ExactArgs(2),
	RunE:  runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	_, client, err := loadClient()
	if err != nil {
		return err
	}

	source, target := args[0], args[1]
	resp, err := client.Get(cmd.Context(), source)
	if err != nil {
		return fmt.Errorf("fetch source: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Source answered %d\n", resp.StatusCode)
	if !receiver.LinksTo(resp.Body, source, target) {
		return fmt.Errorf("%s does not link to %s", source, target)
	}
	fmt.Fprintf(out, "%s links to %s\n", source, target)
	return nil
}
