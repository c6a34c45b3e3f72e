package main

import (
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	carotene "github.com/carotene/carotene.go"
)

// line is the JSON form of a received message, printed one per line.
type line struct {
	Channel    string          `json:"channel"`
	FromServer bool            `json:"from_server,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	UserData   json.RawMessage `json:"user_data,omitempty"`
	Message    json.RawMessage `json:"message"`
}

func subscribeCmd(opts *options) *cobra.Command {
	var (
		count    int
		withInfo bool
	)

	cmd := &cobra.Command{
		Use:   "subscribe <channel>...",
		Short: "Print the messages published to channels",
		Long: `Subscribe to one or more channels and print every message as a JSON line.
The command runs until interrupted, or until --count messages were printed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			p := &printer{out: cmd.OutOrStdout(), limit: count, done: stop}
			s, err := connect(cmd, opts, func(c *carotene.Client) error {
				for _, channel := range args {
					if err := c.Subscribe(channel, p.message); err != nil {
						return err
					}
				}
				if withInfo {
					c.SetOnInfo(p.info)
				}
				return nil
			})
			if err != nil {
				return err
			}
			defer s.Close()

			s.log.Info("subscribed", "channels", args)
			<-ctx.Done()
			return p.err()
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many messages (0 means no limit)")
	cmd.Flags().BoolVar(&withInfo, "info", false, "also print server info notifications")

	return cmd
}

// printer writes messages in arrival order and stops the command after limit messages.
type printer struct {
	out   io.Writer
	limit int
	done  func()

	mu      sync.Mutex
	printed int
	failure error
}

func (p *printer) message(m carotene.Message) {
	p.print(line{
		Channel:    m.Channel,
		FromServer: m.FromServer,
		UserID:     m.UserID,
		UserData:   m.UserData,
		Message:    m.Body,
	})
}

func (p *printer) info(i carotene.Info) {
	p.print(i)
}

func (p *printer) print(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failure != nil || (p.limit > 0 && p.printed >= p.limit) {
		return
	}

	b, err := json.Marshal(v)
	if err == nil {
		_, err = fmt.Fprintln(p.out, string(b))
	}
	if err != nil {
		p.failure = err
		p.done()
		return
	}

	p.printed++
	if p.limit > 0 && p.printed >= p.limit {
		p.done()
	}
}

func (p *printer) err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failure
}
