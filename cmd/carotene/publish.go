package main

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func publishCmd(opts *options) *cobra.Command {
	var (
		raw     bool
		timeout time.Duration
		linger  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "publish <channel> <message>",
		Short: "Publish a message to a channel",
		Long: `Publish a message to a channel. A message that is valid JSON is published
as is; anything else is published as a JSON string. Use --raw to always
publish a string.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, text := args[0], args[1]

			var message any = text
			if !raw && json.Valid([]byte(text)) {
				message = json.RawMessage(text)
			}

			s, err := connect(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := s.waitOpen(ctx); err != nil {
				return err
			}
			if err := s.client.Publish(channel, message); err != nil {
				return err
			}
			s.log.Info("published", "channel", channel)

			// HTTP transports send from a background queue.
			time.Sleep(linger)
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "publish the message as a string even if it is valid JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for a connection")
	cmd.Flags().DurationVar(&linger, "linger", 500*time.Millisecond, "how long to stay connected after publishing")

	return cmd
}
