package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/maltedev/expert-scraper/internal/institution"
)

// errAborted marks a crawl that ended without completing; its summary has
// already been printed.
var errAborted = errors.New("crawl aborted")

var definitionsPath string

var rootCmd = &cobra.Command{
	Use:           "crawler",
	Short:         "crawler walks university expert directories and stores researcher profiles.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&definitionsPath, "definitions", "",
		"YAML file or directory with additional institution definitions")
}

// ExecuteContext runs the command line and returns the process exit code.
func ExecuteContext(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errAborted) {
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	}
	return 0
}

func loadRegistry(extra string) (*institution.Registry, error) {
	registry, err := institution.Default()
	if err != nil {
		return nil, err
	}
	if extra != "" {
		if err := registry.Load(extra); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
