package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/soyeahso/parley/internal/relay"
	"github.com/spf13/cobra"
)

func newRelayCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a local chat relay for development and testing",
		Long: `Run a small WebSocket relay that speaks the parley protocol.
Users and their tokens come from relay.users in the config file, or from
PARLEY_RELAY_TOKEN for a single "dev" user.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Relay.Port = port
			}
			if bind != "" {
				cfg.Relay.Bind = bind
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return relay.New(cfg.Relay, log).Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config, 4041)")
	cmd.Flags().StringVar(&bind, "bind", "", "bind mode: loopback, lan or custom")
	return cmd
}
