package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pairline/pairline/internal/identity"
)

var chatCmd = &cobra.Command{
	Use:   "chat <peer-id>",
	Short: "exchange text messages with a peer",
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

		seed, err := rt.history.Messages(cmd.Context(), identity.MakePair(rt.account.ID, peer))
		if err != nil {
			rt.log.Warn("history unavailable, starting empty", "err", err)
		} else {
			sess.SeedHistory(seed)
		}

		sess.SetOnTranscript(func() {
			messages := sess.Transcript().Messages()
			if len(messages) == 0 {
				return
			}
			last := messages[len(messages)-1]
			if last.Author != rt.account.ID {
				fmt.Printf("[%d] %s\n", last.Author, last.Text)
			}
		})
		ch.Open()

		for _, msg := range sess.Transcript().Messages() {
			fmt.Printf("[%d] %s\n", msg.Author, msg.Text)
		}
		sess.MarkRead()

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			text := scanner.Text()
			if text == "" {
				continue
			}
			if sent, err := sess.SendText(text); err != nil {
				return err
			} else if !sent {
				fmt.Println("(not delivered: signaling offline)")
			}
		}
		return scanner.Err()
	},
}

func parsePeer(raw string) (identity.Identity, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return identity.None, fmt.Errorf("invalid peer id %q", raw)
	}
	peer := identity.Identity(id)
	if !peer.Valid() {
		return identity.None, fmt.Errorf("invalid peer id %d", id)
	}
	return peer, nil
}
