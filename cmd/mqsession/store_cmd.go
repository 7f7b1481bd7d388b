package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/mqsession/statestore"
)

func newGetCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Read a key from the state store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, stop, err := cfg.newStore(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()

			res, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if res.Version.IsZero() {
				return fmt.Errorf("key %q not found", args[0])
			}
			fmt.Fprintf(os.Stdout, "%s\n", res.Value)
			return nil
		},
	}
}

func newSetCommand(cfg *cliConfig) *cobra.Command {
	var nx, nex bool
	var expiry time.Duration

	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Write a key to the state store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if nx && nex {
				return fmt.Errorf("--nx and --nex are mutually exclusive")
			}

			store, stop, err := cfg.newStore(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()

			opts := []statestore.SetOption{statestore.WithExpiry(expiry)}
			switch {
			case nx:
				opts = append(opts, statestore.NotExists)
			case nex:
				opts = append(opts, statestore.NotExistsOrEqual)
			}

			res, err := store.Set(cmd.Context(), args[0], []byte(args[1]), opts...)
			if err != nil {
				return err
			}
			if !res.Value {
				return fmt.Errorf("key %q not set (condition failed)", args[0])
			}
			fmt.Fprintf(os.Stdout, "%s\n", res.Version)
			return nil
		},
	}

	cmd.Flags().BoolVar(&nx, "nx", false, "only set if the key does not exist")
	cmd.Flags().BoolVar(&nex, "nex", false, "only set if the key does not exist or equals the value")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "expire the key after this duration")
	return cmd
}

func newDelCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "del KEY",
		Short: "Delete a key from the state store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, stop, err := cfg.newStore(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()

			res, err := store.Del(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if res.Value == 0 {
				return fmt.Errorf("key %q not found", args[0])
			}
			return nil
		},
	}
}

func newWatchCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "watch KEY",
		Short: "Print change notifications for a key until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, stop, err := cfg.newStore(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()

			notify, done := store.Notify(args[0])
			defer done()

			if err := store.KeyNotify(cmd.Context(), args[0]); err != nil {
				return err
			}
			defer func() {
				_ = store.KeyNotifyStop(cmd.Context(), args[0])
			}()

			for {
				select {
				case n := <-notify:
					fmt.Fprintf(os.Stdout, "%s %s %s\n",
						n.Operation, n.Key, n.Value)
				case <-cmd.Context().Done():
					return nil
				}
			}
		},
	}
}
