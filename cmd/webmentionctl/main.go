package main

import (
	"fmt"
	"os"

	"github.com/dshanske/wordpress-webmention/internal/config"
	"github.com/dshanske/wordpress-webmention/internal/fetch"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	verbose bool
}

var rootCmd = &cobra.Command{
	Use:   "webmentionctl",
	Short: "Check webmention endpoints and deliveries from the command line",
	Long:  "webmentionctl discovers webmention endpoints, sends single webmentions\nand verifies that a source page links to a target.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		logrus.SetOutput(cmd.ErrOrStderr())
		logrus.SetLevel(logrus.WarnLevel)
		if rootFlags.verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&rootFlags.verbose, "verbose", "v", false, "Log requests to stderr")
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.Version = version
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using system environment variables")
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadClient returns the configuration and an HTTP client configured like the server's
func loadClient() (*config.Config, fetch.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, fetch.NewClient(cfg.HTTPTimeout, cfg.UserAgent), nil
}
