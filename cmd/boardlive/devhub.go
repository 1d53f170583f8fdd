package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kanwork/boardlive/internal/hub"
)

var devhubCmd = &cobra.Command{
	Use:   "devhub",
	Short: "Start a local realtime hub for development",
	Long: `Start an in-process realtime hub for development and demos.

The hub accepts websocket clients at /ws, tracks board room membership,
and rebroadcasts task commands as attributed events to room members,
including the sender. The echo back to the sender is how clients
acknowledge their own optimistic updates.

Production deployments use an external hub service; this command is a
local stand-in with the same wire contract.

Example usage:
  boardlive devhub                # listen on default port 8090
  boardlive devhub --port 9000    # custom port
  boardlive devhub --token secret # require a Bearer credential`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		token, _ := cmd.Flags().GetString("token")

		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		h := hub.New(&hub.Config{
			Port:   port,
			Token:  token,
			Logger: cfg.NewLogger("[hub] "),
		})

		if err := h.Start(); err != nil {
			fatalf("failed to start hub: %v", err)
		}

		fmt.Printf("Hub listening on ws://%s/ws\n", h.Addr())
		fmt.Printf("Health check: http://%s/health\n", h.Addr())
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		<-ctx.Done()

		fmt.Println("\nShutting down hub...")
		if err := h.Stop(); err != nil {
			fatalf("error during shutdown: %v", err)
		}
		fmt.Println("Hub stopped")
	},
}

func init() {
	devhubCmd.Flags().IntP("port", "p", 8090, "Port to listen on")
	devhubCmd.Flags().String("token", "", "Require this Bearer credential from clients")

	rootCmd.AddCommand(devhubCmd)
}
