package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kanwork/boardlive/internal/realtime"
	"github.com/kanwork/boardlive/internal/reconcile"
	"github.com/kanwork/boardlive/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream board activity in real time",
	Long: `Join the configured board room and stream attributed activity.

Shows each participant's task changes as they happen, presence updates,
and connectivity transitions. While the connection is down a persistent
offline banner shows how many local updates are still pending.

Example usage:
  boardlive watch
  boardlive watch --board sprint-42`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		notifier := reconcile.NotifierFunc(func(n reconcile.Notification) {
			fmt.Println(ui.Toast(n.Message))
		})

		sess, err := dialSession(cfg, notifier)
		if err != nil {
			fatalf("%v", err)
		}
		defer sess.Close()

		fmt.Printf("%s Watching board %q as %s\n",
			ui.RenderPass("✓"), cfg.Board, cfg.Actor)

		// Passthrough events the coordinator does not reconcile.
		passthrough := []realtime.EventType{
			realtime.EventBoardUpdated,
			realtime.EventProjectUpdated,
			realtime.EventSprintUpdated,
			realtime.EventUserActivity,
			realtime.EventNotification,
		}
		for _, t := range passthrough {
			eventType := t
			defer sess.client.On(eventType, func(ev realtime.Event) {
				fmt.Printf("%s %s %s\n",
					ui.RenderDim(ev.Timestamp.Format("15:04:05")),
					ui.RenderAccent(string(eventType)),
					string(ev.Data))
			})()
		}

		defer sess.client.On(realtime.EventUserPresence, func(ev realtime.Event) {
			if ev.Actor == cfg.Actor {
				return
			}
			d, err := ev.DecodePresence()
			if err != nil {
				return
			}
			who := ev.ActorName
			if who == "" {
				who = ev.Actor
			}
			switch d.Status {
			case "offline":
				fmt.Println(ui.Toast(fmt.Sprintf("%s left the board", who)))
			default:
				fmt.Println(ui.Toast(fmt.Sprintf("%s is viewing the board", who)))
			}
		})()

		defer sess.client.OnStateChange(func(s realtime.State) {
			if s != realtime.StateConnected {
				fmt.Println(ui.OfflineBanner(sess.coord.PendingCount()))
			}
		})()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Presence ping keeps this viewer visible to other participants.
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		sendPresence(sess, cfg.Board)
		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nLeaving board...")
				return
			case <-ticker.C:
				sendPresence(sess, cfg.Board)
			}
		}
	},
}

func sendPresence(sess *session, boardName string) {
	if !sess.client.IsConnected() {
		return
	}
	err := sess.client.Send(realtime.CmdPresencePing, boardName, realtime.PresenceData{Status: "viewing"})
	if err != nil {
		// Presence is best-effort.
		return
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
