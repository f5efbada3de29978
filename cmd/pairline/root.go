package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pairline/pairline/internal/channel"
	"github.com/pairline/pairline/internal/config"
	"github.com/pairline/pairline/internal/directory"
	"github.com/pairline/pairline/internal/history"
	"github.com/pairline/pairline/internal/identity"
	"github.com/pairline/pairline/internal/media"
	"github.com/pairline/pairline/internal/relaycred"
	"github.com/pairline/pairline/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "pairline",
	Short: "pairline is a pairwise text and audio/video call client",
	Long: `pairline connects two registered participants over an unreliable,
NAT-traversing network: text messages and call signaling share one
channel keyed by the canonical identity pair, and calls are negotiated
peer to peer with relay fallback.`,
	SilenceUsage: true,
}

var (
	flagName     string
	flagPassword string
)

func init() {
	auth := pflag.NewFlagSet("auth", pflag.ContinueOnError)
	auth.StringVar(&flagName, "name", "", "display name to authenticate as")
	auth.StringVar(&flagPassword, "password", "", "directory password")
	rootCmd.PersistentFlags().AddFlagSet(auth)

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(callCmd)
}

// runtime bundles everything a subcommand needs after login.
type runtime struct {
	cfg     config.Config
	log     *slog.Logger
	account directory.Account
	history *history.Client
}

func setup(cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := config.NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	if flagName == "" {
		return nil, fmt.Errorf("--name is required")
	}

	dir := directory.NewClient(cfg.DirectoryBaseURL, log)
	account, err := dir.Login(cmd.Context(), flagName, flagPassword)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	log.Info("authenticated", "id", account.ID, "name", account.Name)

	return &runtime{
		cfg:     cfg,
		log:     log,
		account: account,
		history: history.NewClient(cfg.HistoryBaseURL, log),
	}, nil
}

// newSession wires a channel and session for one selected peer.
func (r *runtime) newSession(peer identity.Identity) (*session.Session, *channel.Channel) {
	pair := identity.MakePair(r.account.ID, peer)
	ch := channel.New(r.cfg.SignalingBaseURL, r.account.ID, pair, channel.Timings{
		HeartbeatInterval:      r.cfg.HeartbeatInterval,
		LivenessSampleInterval: r.cfg.LivenessSampleInterval,
		LivenessThreshold:      r.cfg.LivenessThreshold,
		ReconnectDelay:         r.cfg.ReconnectDelay,
	}, r.log)

	resolver := relaycred.NewResolver(r.cfg.RelayCredURL, r.log)
	factory := session.DefaultFactory(resolver, &media.SampleCapturer{}, r.log)

	sess := session.New(session.Config{
		Self:             r.account.ID,
		Peer:             peer,
		HangupCooldown:   r.cfg.HangupCooldown,
		FailedResetDelay: r.cfg.FailedResetDelay,
	}, ch, factory, r.log)
	return sess, ch
}
