package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pkt.systems/mqsession"
	"pkt.systems/mqsession/internal/queue"
)

func newPubCommand(cfg *cliConfig) *cobra.Command {
	var qos uint8
	var retain bool

	cmd := &cobra.Command{
		Use:   "pub TOPIC PAYLOAD",
		Short: "Publish a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, stop, err := cfg.newSessionClient()
			if err != nil {
				return err
			}
			defer stop()

			ack, err := client.Publish(
				cmd.Context(), args[0], []byte(args[1]),
				mqsession.WithQoS(qos),
				mqsession.WithRetain(retain),
			)
			if err != nil {
				return err
			}
			if ack.ReasonCode >= 0x80 {
				return fmt.Errorf("publish rejected with reason code 0x%02X",
					ack.ReasonCode)
			}
			return nil
		},
	}

	cmd.Flags().Uint8Var(&qos, "qos", 1, "quality of service (0 or 1)")
	cmd.Flags().BoolVar(&retain, "retain", false, "set the retain flag")
	return cmd
}

func newSubCommand(cfg *cliConfig) *cobra.Command {
	var qos uint8

	cmd := &cobra.Command{
		Use:   "sub TOPIC...",
		Short: "Subscribe to topics and print messages until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, stop, err := cfg.newSessionClient()
			if err != nil {
				return err
			}
			defer stop()

			remove := client.RegisterMessageHandler(
				func(_ context.Context, msg *mqsession.Message) {
					fmt.Fprintf(os.Stdout, "%s %s\n", msg.Topic, msg.Payload)
					msg.Ack()
				})
			defer remove()

			filters := queue.NewSet[string]()
			for _, topic := range args {
				if !filters.Add(topic) {
					continue
				}
				ack, err := client.Subscribe(
					cmd.Context(), topic, mqsession.WithQoS(qos))
				if err != nil {
					return err
				}
				if ack.ReasonCode >= 0x80 {
					return fmt.Errorf(
						"subscribe to %q rejected with reason code 0x%02X",
						topic, ack.ReasonCode)
				}
			}

			<-cmd.Context().Done()
			return nil
		},
	}

	cmd.Flags().Uint8Var(&qos, "qos", 1, "quality of service (0 or 1)")
	return cmd
}
