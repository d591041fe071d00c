package main

import (
	"context"
	"fmt"

	"github.com/dshanske/wordpress-webmention/internal/discovery"
	"github.com/dshanske/wordpress-webmention/internal/models"
	"github.com/dshanske/wordpress-webmention/internal/sender"
	"github.com/dshanske/wordpress-webmention/internal/storage"
	"github.com/spf13/cobra"
)

var sendFlags struct {
	endpoint string
}

var sendCmd = &cobra.Command{
	Use:   "send <source-url> <target-url>",
	Short: "Notify a target that a source links to it",
	Args:  cobra.ExactArgs(2),
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendFlags.endpoint, "endpoint", "", "Post to this endpoint instead of discovering one")
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, client, err := loadClient()
	if err != nil {
		return err
	}

	store := storage.NewMemoryStore(cfg.SiteURL)
	s := sender.NewSender(cfg, client, discovery.NewDiscoverer(client, cfg.MediaBaseURL), store, store)
	if sendFlags.endpoint != "" {
		s.SetHooks(sender.Hooks{
			EndpointOverride: func(_ context.Context, _, _ string) string { return sendFlags.endpoint },
		})
	}

	outcome := s.SendOne(cmd.Context(), args[0], args[1], "")
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Status:   %s\n", outcome.Status)
	if outcome.Endpoint != "" {
		fmt.Fprintf(out, "Endpoint: %s\n", outcome.Endpoint)
	}
	if outcome.StatusCode != 0 {
		fmt.Fprintf(out, "HTTP:     %d\n", outcome.StatusCode)
	}
	if outcome.Reason != "" {
		fmt.Fprintf(out, "Reason:   %s\n", outcome.Reason)
	}

	switch outcome.Status {
	case models.SendFailed, models.SendRetry:
		return fmt.Errorf("webmention to %s was not accepted", args[1])
	}
	return nil
}
