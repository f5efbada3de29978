package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pairline/pairline/internal/call"
)

var flagVideo bool

var callCmd = &cobra.Command{
	Use:   "call <peer-id>",
	Short: "start an audio or audio/video call with a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup(cmd)
		if err != nil {
			return err
		}
		peer, err := parsePeer(args[0])
		if err != nil {
			return err
		}

		sess, ch := rt.newSession(peer)
		defer sess.Close()

		done := make(chan struct{})
		sess.Machine().SetOnChange(func(status call.Status) {
			fmt.Printf("call: %s\n", status)
			if status == call.StatusIdle {
				select {
				case <-done:
				default:
					close(done)
				}
			}
		})
		ch.Open()

		if err := sess.StartCall(cmd.Context(), flagVideo); err != nil {
			return err
		}

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-interrupt:
			fmt.Printf("hanging up after %ds\n", sess.DurationSeconds())
			sess.Hangup()
		case <-done:
		}
		fmt.Println("call ended")
		return nil
	},
}

func init() {
	callCmd.Flags().BoolVar(&flagVideo, "video", false, "request video as well as audio")
}
