package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/williamtheodoruswijaya/mood-bridge-v2/logger"
	chatmodel "github.com/williamtheodoruswijaya/mood-bridge-v2/module/chat/model"
	usermodel "github.com/williamtheodoruswijaya/mood-bridge-v2/module/user/model"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/tools/errs"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/tools/safe"
)

// SendFailedAlert is shown when a message could not be written or the
// endpoint rejected it.
const SendFailedAlert = "Failed to send message. Please try again."

// API is the REST surface the session consumes. *api.Client satisfies it.
type API interface {
	Friends(ctx context.Context, userID int64) ([]chatmodel.Friend, error)
	FriendRequests(ctx context.Context, userID int64) ([]chatmodel.Friend, error)
	History(ctx context.Context, token string, withUserID int64, limit, offset int) ([]chatmodel.ChatMessage, error)
	MarkRead(ctx context.Context, token string, messageID int64) error
}

type Options struct {
	API       API
	Dialer    Dialer // nil = websocket.DefaultDialer
	WSBaseURL string
	Observer  Observer

	HistoryLimit int
	WriteWait    time.Duration
	PongWait     time.Duration
	ReadLimit    int64
	Reconnect    ReconnectPolicy
}

func (o *Options) norm() {
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 50
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
}

// Session is the chat session of one signed-in user: one live channel,
// the friend list, the focused conversation and its visible messages.
// All state is guarded by mu; channel events are applied by handle only.
type Session struct {
	sc   usermodel.SessionContext
	opts Options
	api  API
	obs  Observer

	ctx    context.Context // lives until Teardown, bounds reconnects
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	ch       *Channel
	gen      uint64
	friends  map[int64]*chatmodel.Friend // key: Friend.ID
	order    []int64
	focus    *chatmodel.Friend
	focusGen uint64
	messages []chatmodel.ChatMessage
	draft    string
	torndown bool
	bo       backoff.BackOff
	retry    *time.Timer
}

func NewSession(sc usermodel.SessionContext, opts Options) (*Session, error) {
	if sc.IsAnonymous() {
		return nil, errs.ErrIdentityInvalid.WrapMsg("session needs a signed-in identity")
	}
	if opts.API == nil {
		return nil, errs.ErrInvalidInput.WrapMsg("api client is required")
	}
	opts.norm()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		sc:      sc,
		opts:    opts,
		api:     opts.API,
		obs:     opts.Observer,
		ctx:     ctx,
		cancel:  cancel,
		friends: make(map[int64]*chatmodel.Friend),
	}, nil
}

func (s *Session) Identity() usermodel.Identity { return s.sc.Identity }

// ===== 连接 =====

// WSURL is {ws_base}/api/chat/ws?id={identity.id}.
func (s *Session) WSURL() string {
	q := url.Values{}
	q.Set("id", strconv.FormatInt(s.sc.UserID(), 10))
	return strings.TrimRight(s.opts.WSBaseURL, "/") + "/api/chat/ws?" + q.Encode()
}

// Connect starts opening the live channel and returns without waiting.
// It is a no-op while a channel is Connecting or Open. ctx bounds the dial.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.torndown {
		s.mu.Unlock()
		return errs.ErrChannel.WrapMsg("session torn down", "user", s.sc.UserID())
	}
	if s.state != StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	ch := newChannel(s.gen, s.opts)
	s.ch = ch
	s.state = StateConnecting
	var n notice
	s.noteStateLocked(&n)
	s.mu.Unlock()
	s.notify(n)

	wsURL := s.WSURL()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.sc.Token)
	logger.Infof("[Session] connecting user=%d channel=%s gen=%d url=%s", s.sc.UserID(), ch.ID, ch.Gen(), wsURL)

	safe.Go("chat.channel", func() { ch.run(ctx, s.opts.Dialer, wsURL, header) })
	safe.Go("chat.pump", func() { s.pump(ch) })
	return nil
}

func (s *Session) pump(ch *Channel) {
	for ev := range ch.Events() {
		s.handle(ch, ev)
	}
}

// handle is the only place channel events change session state.
func (s *Session) handle(ch *Channel, ev Event) {
	var (
		n       notice
		closeCh bool
	)
	s.mu.Lock()
	if s.ch != ch || ev.Gen != s.gen {
		s.mu.Unlock()
		logger.Debugf("[Session] drop stale event kind=%s gen=%d current=%d", ev.Kind, ev.Gen, s.gen)
		return
	}
	switch ev.Kind {
	case EventOpened:
		if s.torndown {
			closeCh = true
			break
		}
		s.state = StateOpen
		s.noteStateLocked(&n)
		if s.bo != nil {
			s.bo.Reset()
		}
		logger.Infof("[Session] channel open user=%d channel=%s", s.sc.UserID(), ch.ID)
	case EventFrame:
		if s.state == StateOpen {
			s.routeLocked(ev.Data, &n)
		}
	case EventErrored:
		logger.Warnf("[Session] channel error user=%d channel=%s err=%v", s.sc.UserID(), ch.ID, ev.Err)
	case EventClosed:
		s.state = StateClosed
		s.ch = nil
		s.noteStateLocked(&n)
		logger.Infof("[Session] channel closed user=%d channel=%s cause=%v", s.sc.UserID(), ch.ID, ev.Err)
		s.scheduleReconnectLocked()
	}
	s.mu.Unlock()

	if closeCh {
		logger.Infof("[Session] channel opened after teardown, closing channel=%s", ch.ID)
		ch.Close()
	}
	s.notify(n)
}

// ===== 推送路由 =====

// routeInbound applies one frame as if it arrived on the open channel.
func (s *Session) routeInbound(frame []byte) {
	var n notice
	s.mu.Lock()
	s.routeLocked(frame, &n)
	s.mu.Unlock()
	s.notify(n)
}

func (s *Session) routeLocked(frame []byte, n *notice) {
	for _, doc := range chatmodel.SplitFrame(frame) {
		env, err := chatmodel.ParseEnvelope(doc)
		if err != nil {
			logger.Warnf("[Session] %v", errs.WrapCode(err, errs.ErrMalformedFrame, "", "len", len(doc)))
			continue
		}
		switch {
		case env.Type.IsChat():
			m, err := env.Message()
			if err != nil {
				logger.Warnf("[Session] %v", errs.WrapCode(err, errs.ErrMalformedFrame, "", "type", env.Type))
				continue
			}
			s.acceptLocked(m, n)
		case env.Type == chatmodel.KindSendFailed:
			d := env.ErrorDetail()
			logger.Warnf("[Session] send rejected code=%s msg=%s", d.Code, d.Message)
			n.alert = SendFailedAlert
		case env.Type == chatmodel.KindError:
			d := env.ErrorDetail()
			logger.Warnf("[Session] endpoint error code=%s msg=%s", d.Code, d.Message)
		default:
			logger.Debugf("[Session] ignore envelope type=%s", env.Type)
		}
	}
}

// acceptLocked appends m when it belongs to the focused conversation,
// otherwise counts it as unread for the friend who sent it.
func (s *Session) acceptLocked(m chatmodel.ChatMessage, n *notice) {
	self := s.sc.UserID()
	if s.focus != nil {
		peer := s.focus.PeerID()
		if (m.SenderID == peer && m.RecipientID == self) || (m.SenderID == self && m.RecipientID == peer) {
			s.messages = append(s.messages, m)
			s.noteMessagesLocked(n)
			return
		}
	}
	if m.RecipientID != self {
		logger.Debugf("[Session] message not for current chat id=%d sender=%d recipient=%d", m.ID, m.SenderID, m.RecipientID)
		return
	}
	if f := s.friendByPeerLocked(m.SenderID); f != nil {
		f.Unread++
		s.noteFriendsLocked(n)
		return
	}
	logger.Debugf("[Session] message from non-friend id=%d sender=%d", m.ID, m.SenderID)
}

// ===== 会话 =====

// LoadFriends replaces the friend list, keeping unread counters of friends still present.
func (s *Session) LoadFriends(ctx context.Context) error {
	list, err := s.api.Friends(ctx, s.sc.UserID())
	if err != nil {
		logger.Errorf("[Session] load friends failed user=%d err=%v", s.sc.UserID(), err)
		return err
	}

	var n notice
	s.mu.Lock()
	next := make(map[int64]*chatmodel.Friend, len(list))
	order := make([]int64, 0, len(list))
	for i := range list {
		f := list[i]
		if _, dup := next[f.ID]; dup {
			continue
		}
		if old, ok := s.friends[f.ID]; ok {
			f.Unread = old.Unread
		}
		next[f.ID] = &f
		order = append(order, f.ID)
	}
	s.friends = next
	s.order = order
	s.noteFriendsLocked(&n)
	s.mu.Unlock()
	s.notify(n)
	return nil
}

// FriendRequests lists pending requests; read only.
func (s *Session) FriendRequests(ctx context.Context) ([]chatmodel.Friend, error) {
	return s.api.FriendRequests(ctx, s.sc.UserID())
}

// SelectConversation focuses friendID, resets its unread counter, clears
// the visible list and loads history. Selecting the same friend again
// re-fetches and ends in the same state.
func (s *Session) SelectConversation(ctx context.Context, friendID int64) error {
	var n notice
	s.mu.Lock()
	f, ok := s.friends[friendID]
	if !ok {
		s.mu.Unlock()
		return errs.ErrUnknownFriend.WrapMsg("", "friend_id", friendID)
	}
	f.Unread = 0
	focus := *f
	s.focus = &focus
	s.focusGen++
	s.messages = nil
	s.noteFriendsLocked(&n)
	s.noteMessagesLocked(&n)
	s.mu.Unlock()
	s.notify(n)

	return s.LoadHistory(ctx, focus)
}

// LoadHistory replaces the visible list with the friend's history, oldest
// first. On failure the list is cleared; there is no retry. A response that
// arrives after focus moved on is discarded.
func (s *Session) LoadHistory(ctx context.Context, friend chatmodel.Friend) error {
	s.mu.Lock()
	if s.focus == nil || s.focus.ID != friend.ID {
		s.mu.Unlock()
		return errs.ErrNotFocused.WrapMsg("", "friend_id", friend.ID)
	}
	gen := s.focusGen
	s.mu.Unlock()

	peer := friend.PeerID()
	msgs, err := s.api.History(ctx, s.sc.Token, peer, s.opts.HistoryLimit, 0)
	if err == nil {
		chatmodel.SortByTimestamp(msgs)
	}

	var n notice
	s.mu.Lock()
	if gen != s.focusGen {
		s.mu.Unlock()
		logger.Debugf("[Session] discard history with_user_id=%d gen=%d current=%d", peer, gen, s.focusGen)
		return nil
	}
	if err != nil {
		s.messages = nil
		s.noteMessagesLocked(&n)
		s.mu.Unlock()
		s.notify(n)
		logger.Errorf("[Session] fetch history failed with_user_id=%d err=%v", peer, err)
		return errs.WrapCode(err, errs.ErrHistoryFetch, "", "with_user_id", peer)
	}
	s.messages = msgs
	s.noteMessagesLocked(&n)
	s.mu.Unlock()
	s.notify(n)
	return nil
}

// ===== 发送 =====

// Send writes content to the focused friend. Empty content, no focus or a
// channel that is not Open (or already closing) make it a silent no-op. On
// success the draft is cleared; on a write failure the draft is kept and an
// alert is raised.
func (s *Session) Send(content string) error {
	text := strings.TrimSpace(content)

	s.mu.Lock()
	if text == "" || s.torndown || s.focus == nil || s.state != StateOpen || s.ch == nil {
		s.mu.Unlock()
		return nil
	}
	ch := s.ch
	peer := s.focus.PeerID()
	s.mu.Unlock()

	b, err := json.Marshal(chatmodel.OutboundMessage{RecipientID: peer, Content: text})
	if err == nil {
		err = ch.Write(b)
	}
	if errors.Is(err, ErrClosing) {
		return nil
	}
	if err != nil {
		logger.Errorf("[Session] send failed recipient=%d err=%v", peer, err)
		s.notify(notice{alert: SendFailedAlert})
		return errs.WrapCode(err, errs.ErrSendFailed, "", "recipient", peer)
	}

	s.mu.Lock()
	s.draft = ""
	s.mu.Unlock()
	return nil
}

func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// SendDraft sends the current draft.
func (s *Session) SendDraft() error {
	return s.Send(s.Draft())
}

// MarkRead tells the backend a message was read.
func (s *Session) MarkRead(ctx context.Context, messageID int64) error {
	if err := s.api.MarkRead(ctx, s.sc.Token, messageID); err != nil {
		logger.Warnf("[Session] mark read failed id=%d err=%v", messageID, err)
		return err
	}
	return nil
}

// Teardown closes the channel if it is Open and cancels a pending
// reconnect. A dial still in flight is not interrupted; if it opens later
// the channel is closed right away. The session cannot be reused.
func (s *Session) Teardown() {
	s.mu.Lock()
	if s.torndown {
		s.mu.Unlock()
		return
	}
	s.torndown = true
	ch, st := s.ch, s.state
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.mu.Unlock()

	s.cancel()
	if ch != nil && st == StateOpen {
		ch.Close()
	}
	logger.Infof("[Session] teardown user=%d state=%s", s.sc.UserID(), st)
}

// ===== 快照 =====

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Messages() []chatmodel.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesLocked()
}

func (s *Session) Friends() []chatmodel.Friend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.friendsLocked()
}

// Focus returns the focused friend as of selection time.
func (s *Session) Focus() (chatmodel.Friend, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.focus == nil {
		return chatmodel.Friend{}, false
	}
	return *s.focus, true
}

func (s *Session) messagesLocked() []chatmodel.ChatMessage {
	out := make([]chatmodel.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) friendsLocked() []chatmodel.Friend {
	out := make([]chatmodel.Friend, 0, len(s.order))
	for _, id := range s.order {
		if f, ok := s.friends[id]; ok {
			out = append(out, *f)
		}
	}
	return out
}

func (s *Session) friendByPeerLocked(peer int64) *chatmodel.Friend {
	for _, id := range s.order {
		if f := s.friends[id]; f != nil && f.PeerID() == peer {
			return f
		}
	}
	return nil
}
