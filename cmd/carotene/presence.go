package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	carotene "github.com/carotene/carotene.go"
)

func presenceCmd(opts *options) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "presence <channel>",
		Short: "List the subscribers of a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel := args[0]
			replies := make(chan carotene.Presence, 1)

			s, err := connect(cmd, opts, func(c *carotene.Client) error {
				c.SetOnPresence(func(p carotene.Presence) {
					if p.Channel != channel {
						return
					}
					select {
					case replies <- p:
					default:
					}
				})
				return nil
			})
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := s.waitOpen(ctx); err != nil {
				return err
			}
			if err := s.client.Presence(channel); err != nil {
				return err
			}

			select {
			case p := <-replies:
				for _, subscriber := range p.Subscribers {
					fmt.Fprintln(cmd.OutOrStdout(), subscriber)
				}
				return nil
			case <-ctx.Done():
				return fmt.Errorf("waiting for presence of %q: %w", channel, ctx.Err())
			}
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the connection and the reply")

	return cmd
}
