package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/soyeahso/parley/internal/chat"
	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/history"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse the local transcript cache",
	}

	cmd.AddCommand(newHistoryListCmd())
	cmd.AddCommand(newHistoryShowCmd())
	cmd.AddCommand(newHistorySearchCmd())
	cmd.AddCommand(newHistoryClearCmd())
	return cmd
}

// openHistory opens the transcript cache named by the config, falling back
// to the default data path.
func openHistory() (*history.Store, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return nil, err
	}
	return history.Open(historyPath(cfg), log)
}

func historyPath(cfg config.Config) string {
	if cfg.History.Path != "" {
		return cfg.History.Path
	}
	return paths.History
}

func newHistoryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Conversations()
			if err != nil {
				return err
			}
			if len(stats) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No cached conversations.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CONVERSATION\tMESSAGES\tLAST ACTIVITY")
			for _, st := range stats {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", st.ConversationID, st.Count, st.LastAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func newHistoryShowCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "show <conversation>",
		Short: "Print the cached transcript of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			msgs, err := store.Recent(args[0], limit)
			if err != nil {
				return err
			}
			printTranscript(cmd.OutOrStdout(), msgs)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of messages to show (0 for all)")
	return cmd
}

func newHistorySearchCmd() *cobra.Command {
	var (
		conversation string
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over cached messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			msgs, err := store.Search(conversation, args[0], limit)
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matches.")
				return nil
			}
			printTranscript(cmd.OutOrStdout(), msgs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "restrict the search to one conversation")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of matches")
	return cmd
}

func newHistoryClearCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clear [conversation]",
		Short: "Delete cached messages of one conversation, or all with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return fmt.Errorf("name a conversation or pass --all")
			}
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			conv := ""
			if len(args) == 1 {
				conv = args[0]
			}
			n, err := store.Clear(conv)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d message(s)\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "clear every conversation")
	return cmd
}

func printTranscript(w io.Writer, msgs []chat.Message) {
	for _, m := range msgs {
		fmt.Fprintln(w, formatMessage(m))
	}
}

// formatMessage renders one transcript line.
func formatMessage(m chat.Message) string {
	who := m.SenderName
	if who == "" {
		who = m.SenderID
	}
	if m.IsOwn {
		who = "me"
	}
	line := fmt.Sprintf("[%s] %s: %s", m.Timestamp.Local().Format("15:04"), who, m.Content)
	if m.Pending {
		line += " (sending)"
	}
	return line
}
