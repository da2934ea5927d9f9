package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/soyeahso/parley/internal/chat"
	"github.com/soyeahso/parley/internal/connection"
	"github.com/soyeahso/parley/internal/events"
	"github.com/soyeahso/parley/internal/history"
	"github.com/spf13/cobra"
)

var errNoToken = errors.New("no access token: set connection.token, PARLEY_TOKEN, --token or --token-file")

func newChatCmd() *cobra.Command {
	var (
		token        string
		tokenFile    string
		conversation string
		noHistory    bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open an interactive chat session in the terminal",
		Long: `Connect to the chat backend and chat from the terminal.

Type a line to send it to the current conversation. Commands:
  /join <id>      switch to a conversation
  /leave          leave the current conversation
  /list           list conversations
  /who            show who is online
  /history [n]    show cached messages
  /typing         tell others you are typing
  /status         show the connection status
  /quit           exit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if token != "" {
				cfg.Connection.Token = token
			}
			if cfg.Connection.Token == "" && tokenFile == "" {
				return errNoToken
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			bus := events.NewBus(log)
			conn := connection.New(cfg.Connection, bus, log, connectionOptions(tokenFile)...)
			cm := chat.New(conn, bus, cfg.Chat, log)
			defer cm.Close()

			if err := cm.LoadConversations(ctx, chat.ConversationsFromConfig(cfg.Chat.Conversations)); err != nil {
				return err
			}

			var store *history.Store
			if cfg.History.Enabled && !noHistory {
				store, err = history.Open(historyPath(cfg), log)
				if err != nil {
					return err
				}
				defer store.Close()
				store.Attach(bus)
				defer store.Detach(bus)
			}

			view := newTerminalView(cmd.OutOrStdout(), cm, conn.Status, store, cfg.History.Limit)
			view.Subscribe(bus)
			defer view.Unsubscribe(bus)
			if conversation != "" {
				view.join(conversation)
			}

			conn.Connect(ctx, cfg.Connection.Token)
			defer conn.Disconnect()

			return view.Run(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "access token (overrides config)")
	cmd.Flags().StringVar(&tokenFile, "token-file", "", "read the access token from this file on every (re)connect")
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "conversation to join once connected")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not read or write the transcript cache")
	return cmd
}

func connectionOptions(tokenFile string) []connection.Option {
	if tokenFile == "" {
		return nil
	}
	return []connection.Option{connection.WithTokenSource(connection.FileTokenSource(tokenFile))}
}
