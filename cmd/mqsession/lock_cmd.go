package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/xid"
	"github.com/spf13/cobra"

	"pkt.systems/mqsession/leaderelection"
	"pkt.systems/mqsession/leasedlock"
)

func newLockCommand(cfg *cliConfig) *cobra.Command {
	var duration, renew time.Duration
	var sessionID string

	cmd := &cobra.Command{
		Use:   "lock NAME",
		Short: "Acquire a leased lock and hold it until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, stop, err := cfg.newStore(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()

			if sessionID == "" {
				sessionID = xid.New().String()
			}
			if renew == 0 {
				renew = duration / 2
			}

			lock, err := leasedlock.New[string, []byte](store, args[0],
				leasedlock.WithSessionID(sessionID))
			if err != nil {
				return err
			}

			if err := lock.Acquire(cmd.Context(), duration,
				leasedlock.WithRenew(renew)); err != nil {
				return err
			}

			token, err := lock.Token(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "acquired %s token %s\n", args[0], token)

			<-cmd.Context().Done()

			// The command context is gone; give the release its own deadline.
			ctx, cancel := context.WithTimeout(
				context.Background(), 10*time.Second)
			defer cancel()
			return lock.Release(ctx)
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 30*time.Second, "lease duration")
	cmd.Flags().DurationVar(&renew, "renew", 0, "renew interval (default half the lease)")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "session ID suffix (default generated)")
	return cmd
}

func newElectCommand(cfg *cliConfig) *cobra.Command {
	var term, renew time.Duration

	cmd := &cobra.Command{
		Use:   "elect POSITION",
		Short: "Campaign for leadership and hold it until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, stop, err := cfg.newStore(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()

			if renew == 0 {
				renew = term / 2
			}

			election, err := leaderelection.New[string, []byte](store, args[0])
			if err != nil {
				return err
			}

			if err := election.Campaign(cmd.Context(), term,
				leaderelection.WithRenew(renew)); err != nil {
				return err
			}

			token, err := election.Term(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "elected for %s term %s\n", args[0], token)

			<-cmd.Context().Done()

			ctx, cancel := context.WithTimeout(
				context.Background(), 10*time.Second)
			defer cancel()
			return election.Resign(ctx)
		},
	}

	cmd.Flags().DurationVar(&term, "term", 30*time.Second, "leadership term duration")
	cmd.Flags().DurationVar(&renew, "renew", 0, "renew interval (default half the term)")
	return cmd
}
