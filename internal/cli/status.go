package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/connection"
	"github.com/soyeahso/parley/internal/events"
	"github.com/soyeahso/parley/internal/history"
	"github.com/soyeahso/parley/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var (
		probe     bool
		timeout   time.Duration
		tokenFile string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration summary and optionally probe the chat backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "parley %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}
			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config:  not found (using defaults)")
			}

			c := cfg.Connection
			fmt.Fprintf(out, "Server:  %s (token %s)\n", c.URL, tokenState(c.Token, tokenFile))
			fmt.Fprintf(out, "Retry:   max=%d delay=%s timeout=%s\n", c.MaxReconnectAttempts, c.ReconnectDelay(), c.ConnectTimeout())
			fmt.Fprintf(out, "Chat:    conversations=%d typingTimeout=%s\n", len(cfg.Chat.Conversations), cfg.Chat.TypingTimeout())

			if cfg.History.Enabled {
				fmt.Fprintf(out, "History: %s (replay %d)\n", historyPath(cfg), cfg.History.Limit)
				if store, err := history.Open(historyPath(cfg), log); err == nil {
					if stats, err := store.Conversations(); err == nil {
						fmt.Fprintf(out, "         %d cached conversation(s)\n", len(stats))
					}
					store.Close()
				}
			} else {
				fmt.Fprintln(out, "History: disabled")
			}
			fmt.Fprintf(out, "Relay:   port=%d bind=%s users=%d\n", cfg.Relay.Port, cfg.Relay.Bind, len(cfg.Relay.Users))

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			if !probe {
				return nil
			}
			st := probeConnection(cmd.Context(), cfg.Connection, tokenFile, timeout)
			data, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nProbe:\n%s\n", data)
			if !st.Authenticated {
				return fmt.Errorf("probe failed: %s", st.LastError)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", false, "connect and authenticate once, then report the result")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "probe timeout")
	cmd.Flags().StringVar(&tokenFile, "token-file", "", "read the access token from this file")
	return cmd
}

func tokenState(token, tokenFile string) string {
	switch {
	case tokenFile != "":
		return "from " + tokenFile
	case token != "":
		return "set"
	default:
		return "not set"
	}
}

// probeConnection connects once without retrying and returns the status
// after authentication succeeds, fails, or the timeout passes.
func probeConnection(ctx context.Context, cfg config.ConnectionConfig, tokenFile string, timeout time.Duration) connection.Status {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cfg.MaxReconnectAttempts = 0
	bus := events.NewBus(log)
	settled := make(chan struct{}, 1)
	for _, topic := range []string{
		events.TopicAuthenticated,
		events.TopicAuthenticationError,
		events.TopicReconnectFailed,
	} {
		bus.On(topic, "probe", func(context.Context, events.Payload) error {
			select {
			case settled <- struct{}{}:
			default:
			}
			return nil
		})
	}

	conn := connection.New(cfg, bus, log, connectionOptions(tokenFile)...)
	defer conn.Disconnect()
	conn.Connect(ctx, cfg.Token)

	select {
	case <-settled:
	case <-ctx.Done():
	}
	st := conn.Status()
	if !st.Authenticated && st.LastError == "" && ctx.Err() != nil {
		st.LastError = ctx.Err().Error()
	}
	return st
}
