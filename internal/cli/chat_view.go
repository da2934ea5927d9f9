package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/parley/internal/chat"
	"github.com/soyeahso/parley/internal/connection"
	"github.com/soyeahso/parley/internal/events"
	"github.com/soyeahso/parley/internal/history"
)

const (
	viewHandler   = "terminal"
	sweepInterval = time.Second
)

// terminalView renders chat events as lines of text and turns input lines
// into chat operations.
type terminalView struct {
	chat   *chat.Manager
	status func() connection.Status
	store  *history.Store // nil when the cache is disabled
	replay int

	outMu sync.Mutex
	out   io.Writer

	mu      sync.Mutex
	current string // conversation to (re)join after every authentication
}

func newTerminalView(out io.Writer, cm *chat.Manager, status func() connection.Status, store *history.Store, replay int) *terminalView {
	return &terminalView{chat: cm, status: status, store: store, replay: replay, out: out}
}

func (v *terminalView) printf(format string, args ...any) {
	v.outMu.Lock()
	defer v.outMu.Unlock()
	fmt.Fprintf(v.out, format+"\n", args...)
}

func (v *terminalView) currentConversation() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

func (v *terminalView) topicHandlers() map[string]events.Handler {
	return map[string]events.Handler{
		events.TopicConnecting: func(_ context.Context, p events.Payload) error {
			v.printf("* connecting...")
			return nil
		},
		events.TopicAuthenticated: func(_ context.Context, p events.Payload) error {
			ev, _ := p.Data.(connection.Event)
			who := ev.Status.UserEmail
			if who == "" {
				who = ev.Status.UserID
			}
			v.printf("* connected as %s", who)
			if conv := v.currentConversation(); conv != "" {
				v.chat.JoinConversation(conv)
			}
			return nil
		},
		events.TopicAuthenticationError: func(_ context.Context, p events.Payload) error {
			ev, _ := p.Data.(connection.Event)
			v.printf("* authentication failed: %s", ev.Reason)
			return nil
		},
		events.TopicDisconnected: func(_ context.Context, p events.Payload) error {
			ev, _ := p.Data.(connection.Event)
			v.printf("* disconnected: %s", ev.Reason)
			return nil
		},
		events.TopicReconnectAttempt: func(_ context.Context, p events.Payload) error {
			ev, _ := p.Data.(connection.Event)
			v.printf("* reconnecting (attempt %d)...", ev.Attempt)
			return nil
		},
		events.TopicReconnectFailed: func(_ context.Context, p events.Payload) error {
			ev, _ := p.Data.(connection.Event)
			v.printf("* %s", ev.Reason)
			return nil
		},
		events.TopicMessageAdded: func(_ context.Context, p events.Payload) error {
			// Own echoes are printed once the server confirms them.
			ev, ok := p.Data.(chat.MessageEvent)
			if !ok || ev.Message.Pending {
				return nil
			}
			v.printMessage(ev.ConversationID, ev.Message)
			return nil
		},
		events.TopicMessageReconciled: func(_ context.Context, p events.Payload) error {
			if ev, ok := p.Data.(chat.ReconcileEvent); ok {
				v.printMessage(ev.ConversationID, ev.Message)
			}
			return nil
		},
		events.TopicTyping: func(_ context.Context, p events.Payload) error {
			ev, ok := p.Data.(chat.TypingEvent)
			if ok && ev.ConversationID == v.currentConversation() && len(ev.Users) > 0 {
				v.printf("  (%s typing)", strings.Join(ev.Users, ", "))
			}
			return nil
		},
		events.TopicPresence: func(_ context.Context, p events.Payload) error {
			ev, ok := p.Data.(chat.PresenceEvent)
			if !ok || ev.UserID == "" {
				return nil
			}
			state := "offline"
			if ev.Online {
				state = "online"
			}
			v.printf("* %s is %s", ev.UserID, state)
			return nil
		},
		events.TopicChatError: func(_ context.Context, p events.Payload) error {
			v.printf("! %v", p.Data)
			return nil
		},
	}
}

// Subscribe registers the view's handlers on bus.
func (v *terminalView) Subscribe(bus *events.Bus) {
	for topic, h := range v.topicHandlers() {
		bus.On(topic, viewHandler, h)
	}
}

// Unsubscribe removes the handlers installed by Subscribe.
func (v *terminalView) Unsubscribe(bus *events.Bus) {
	for topic := range v.topicHandlers() {
		bus.Off(topic, viewHandler)
	}
}

func (v *terminalView) printMessage(conversationID string, m chat.Message) {
	line := formatMessage(m)
	if conversationID != v.currentConversation() {
		line = "#" + conversationID + " " + line
	}
	v.printf("%s", line)
}

// Run reads commands from in until EOF, /quit, or ctx is cancelled.
// Expired typing indicators are swept in the background.
func (v *terminalView) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				v.chat.SweepTyping()
			}
		}
	}()

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			if v.handleLine(line) {
				return nil
			}
		}
	}
}

// handleLine executes one input line and reports whether the session
// should end.
func (v *terminalView) handleLine(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		v.send(line)
		return false
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "quit", "exit", "q":
		return true
	case "join", "j":
		if arg == "" {
			v.printf("usage: /join <conversation>")
			return false
		}
		v.join(arg)
	case "leave":
		v.leave()
	case "list", "ls":
		v.list()
	case "who":
		v.who()
	case "history":
		v.history(arg)
	case "typing":
		if conv := v.currentConversation(); conv != "" {
			v.chat.StartTyping(conv)
		}
	case "status":
		v.printStatus()
	case "help", "?":
		v.printf("commands: /join <id>, /leave, /list, /who, /history [n], /typing, /status, /quit")
	default:
		v.printf("unknown command /%s (try /help)", cmd)
	}
	return false
}

func (v *terminalView) send(content string) {
	conv := v.currentConversation()
	if conv == "" {
		v.printf("join a conversation first: /join <id>")
		return
	}
	if _, err := v.chat.SendMessage(conv, content, ""); err != nil {
		v.printf("! %v", err)
		return
	}
	v.chat.StopTyping(conv)
}

func (v *terminalView) join(id string) {
	if _, ok := v.chat.Conversation(id); !ok {
		v.printf("unknown conversation %q (see /list)", id)
		return
	}
	v.mu.Lock()
	v.current = id
	v.mu.Unlock()

	if v.store != nil {
		if _, err := v.store.Replay(v.chat, id, v.replay); err != nil {
			v.printf("! history: %v", err)
		}
	}
	if !v.status().Authenticated {
		v.printf("* will join %s once connected", id)
		return
	}
	v.chat.JoinConversation(id)
	v.printf("* joined %s", id)
}

func (v *terminalView) leave() {
	v.mu.Lock()
	conv := v.current
	v.current = ""
	v.mu.Unlock()

	if conv == "" {
		v.printf("not in a conversation")
		return
	}
	v.chat.LeaveConversation(conv)
	v.printf("* left %s", conv)
}

func (v *terminalView) list() {
	convs := v.chat.Conversations()
	if len(convs) == 0 {
		v.printf("no conversations configured (chat.conversations)")
		return
	}
	current := v.currentConversation()
	for _, c := range convs {
		marker := " "
		if c.ID == current {
			marker = "*"
		}
		line := fmt.Sprintf("%s %s (%s)", marker, c.DisplayName(), c.ID)
		if c.UnreadCount > 0 {
			line += fmt.Sprintf(" [%d unread]", c.UnreadCount)
		}
		v.printf("%s", line)
	}
}

func (v *terminalView) who() {
	online := v.chat.OnlineUsers()
	if len(online) == 0 {
		v.printf("nobody else is online")
		return
	}
	v.printf("online: %s", strings.Join(online, ", "))
}

func (v *terminalView) history(arg string) {
	conv := v.currentConversation()
	switch {
	case v.store == nil:
		v.printf("history is disabled")
		return
	case conv == "":
		v.printf("join a conversation first: /join <id>")
		return
	}
	limit := v.replay
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			v.printf("usage: /history [n]")
			return
		}
		limit = n
	}
	msgs, err := v.store.Recent(conv, limit)
	if err != nil {
		v.printf("! history: %v", err)
		return
	}
	for _, m := range msgs {
		v.printf("%s", formatMessage(m))
	}
}

func (v *terminalView) printStatus() {
	st := v.status()
	line := fmt.Sprintf("state=%s attempts=%d", st.State, st.ReconnectAttempts)
	if st.UserID != "" {
		line += " user=" + st.UserID
	}
	if st.LastError != "" {
		line += " lastError=" + strconv.Quote(st.LastError)
	}
	v.printf("%s", line)
}
