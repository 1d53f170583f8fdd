// Command boardlive is the terminal client for the boardlive realtime
// collaboration hub: it streams attributed board activity and performs
// optimistic task mutations from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kanwork/boardlive/internal/config"
)

var (
	cfgFile   string
	boardFlag string
	actorFlag string
	hubFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "boardlive",
	Short: "Realtime collaborative task board client",
	Long: `boardlive connects to a realtime board hub over websocket.

Local mutations apply optimistically and reconcile against server
broadcasts: your own echoes are suppressed, other participants' changes
are merged and attributed.

Configuration is read from ~/.config/boardlive/config.yaml, BOARDLIVE_*
environment variables, and flags (in increasing precedence).`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&boardFlag, "board", "", "Board room to use")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", "", "Actor identity")
	rootCmd.PersistentFlags().StringVar(&hubFlag, "hub", "", "Hub websocket URL")
}

// loadConfig resolves configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if boardFlag != "" {
		cfg.Board = boardFlag
	}
	if actorFlag != "" {
		cfg.Actor = actorFlag
	}
	if hubFlag != "" {
		cfg.HubURL = hubFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
