package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/williamtheodoruswijaya/mood-bridge-v2/global/config"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/logger"
	chatmodel "github.com/williamtheodoruswijaya/mood-bridge-v2/module/chat/model"
	usersvc "github.com/williamtheodoruswijaya/mood-bridge-v2/module/user/service"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/service/api"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/service/chat"
)

const help = `commands:
  /friends          list friends with unread counts
  /open <friendId>  focus a conversation and load its history
  /requests         list pending friend requests
  /read <msgId>     mark a message as read
  /connect          reconnect the live channel
  /quit             exit
anything else is sent to the focused friend`

func main() {
	cfgPath := flag.String("config", "", "path to config.yaml")
	token := flag.String("token", "", "bearer token (overrides config / MOODBRIDGE_TOKEN)")
	flag.Parse()

	if err := config.Init(*cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	cfg := config.Global
	if *token != "" {
		cfg.Token = *token
	}
	logger.SetLevel(cfg.LogLevel)
	defer logger.Sync()

	sc, err := usersvc.NewSessionContext(cfg.Token)
	if err != nil {
		// 身份无效按未登录处理
		logger.Debugf("[Session] token rejected: %v", err)
		fmt.Fprintln(os.Stderr, "not signed in: set MOODBRIDGE_TOKEN or pass -token")
		os.Exit(1)
	}
	if sc.Expired(time.Now()) {
		logger.Infof("[Session] token expired user=%d exp=%s", sc.UserID(), sc.ExpiresAt.Format(time.RFC3339))
		fmt.Fprintln(os.Stderr, "session expired: sign in again")
		os.Exit(1)
	}

	out := &termObserver{w: os.Stdout, self: sc.UserID()}
	sess, err := chat.NewSession(sc, chat.Options{
		API:          api.New(cfg.APIBaseURL, cfg.HTTPTimeout),
		Dialer:       &websocket.Dialer{HandshakeTimeout: cfg.HTTPTimeout},
		WSBaseURL:    cfg.WSBaseURL,
		Observer:     out,
		HistoryLimit: cfg.Chat.HistoryLimit,
		WriteWait:    cfg.Chat.WriteWait,
		PongWait:     cfg.Chat.PongWait,
		ReadLimit:    cfg.Chat.ReadLimit,
		Reconnect: chat.ReconnectPolicy{
			Enabled:         cfg.Chat.Reconnect.Enabled,
			InitialInterval: cfg.Chat.Reconnect.InitialInterval,
			MaxInterval:     cfg.Chat.Reconnect.MaxInterval,
			MaxRetries:      uint64(cfg.Chat.Reconnect.MaxRetries),
		},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer sess.Teardown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stdout, "signed in as @%s (#%d)\n%s\n", sc.Identity.Username, sc.UserID(), help)
	if err := sess.LoadFriends(ctx); err != nil {
		fmt.Fprintln(os.Stdout, "could not load friends:", err)
	}
	if err := sess.Connect(ctx); err != nil {
		fmt.Fprintln(os.Stdout, "connect:", err)
	}

	lines := make(chan string)
	go readLines(os.Stdin, lines)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok || !runCommand(ctx, sess, out, line) {
				return
			}
		}
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}

// runCommand returns false when the client should exit.
func runCommand(ctx context.Context, sess *chat.Session, out *termObserver, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch cmd {
	case "":
		return true
	case "/quit":
		return false
	case "/help":
		out.printf("%s\n", help)
	case "/friends":
		if err := sess.LoadFriends(reqCtx); err != nil {
			out.printf("load friends: %v\n", err)
		}
	case "/requests":
		reqs, err := sess.FriendRequests(reqCtx)
		if err != nil {
			out.printf("friend requests: %v\n", err)
			return true
		}
		if len(reqs) == 0 {
			out.printf("no pending requests\n")
		}
		for _, r := range reqs {
			out.printf("  request #%d from %s\n", r.ID, r.DisplayName())
		}
	case "/open":
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil {
			out.printf("usage: /open <friendId>\n")
			return true
		}
		if err := sess.SelectConversation(reqCtx, id); err != nil {
			out.printf("open: %v\n", err)
		}
	case "/read":
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil {
			out.printf("usage: /read <msgId>\n")
			return true
		}
		if err := sess.MarkRead(reqCtx, id); err != nil {
			out.printf("read: %v\n", err)
		}
	case "/connect":
		if err := sess.Connect(ctx); err != nil {
			out.printf("connect: %v\n", err)
		}
	default:
		sess.SetDraft(line)
		if err := sess.SendDraft(); err != nil {
			return true // the observer already printed the alert
		}
		if _, ok := sess.Focus(); !ok {
			out.printf("open a conversation first (/open <friendId>)\n")
		} else if sess.State() != chat.StateOpen {
			out.printf("not connected (state=%s)\n", sess.State())
		}
	}
	return true
}

// termObserver prints session updates to a terminal.
type termObserver struct {
	mu    sync.Mutex
	w     io.Writer
	self  int64
	shown int // messages already printed for the current list
}

func (o *termObserver) printf(format string, args ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.w, format, args...)
}

func (o *termObserver) OnState(s chat.State) {
	o.printf("* channel %s\n", s)
}

func (o *termObserver) OnFriends(fs []chatmodel.Friend) {
	o.printf("friends:\n")
	for _, f := range fs {
		unread := ""
		if f.Unread > 0 {
			unread = fmt.Sprintf("  (%d unread)", f.Unread)
		}
		o.printf("  [%d] %s @%s%s\n", f.ID, f.User.Fullname, f.User.Username, unread)
	}
}

// OnMessages reprints the list when it was replaced, otherwise only the new tail.
func (o *termObserver) OnMessages(ms []chatmodel.ChatMessage) {
	o.mu.Lock()
	prev := o.shown
	o.mu.Unlock()
	start := prev
	if len(ms) < prev || len(ms) == 0 {
		start = 0
	}
	if start == 0 && prev > 0 {
		o.printf("-----\n")
	}
	for _, m := range ms[start:] {
		who := "them"
		if m.SenderID == o.self {
			who = "me"
		}
		o.printf("  %s %-4s #%d: %s\n", m.Timestamp.Local().Format("15:04"), who, m.ID, m.Content)
	}
	o.mu.Lock()
	o.shown = len(ms)
	o.mu.Unlock()
}

func (o *termObserver) OnAlert(msg string) {
	o.printf("! %s\n", msg)
}
