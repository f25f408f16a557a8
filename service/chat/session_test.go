package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	chatmodel "github.com/williamtheodoruswijaya/mood-bridge-v2/module/chat/model"
	usermodel "github.com/williamtheodoruswijaya/mood-bridge-v2/module/user/model"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/tools/errs"
)

const (
	selfID      = int64(1)
	bobID       = int64(2) // friend record 100
	carolID     = int64(3) // friend record 101
	bobFriend   = int64(100)
	carolFriend = int64(101)
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// ---- fakes ----

type fakeAPI struct {
	mu         sync.Mutex
	friends    []chatmodel.Friend
	history    map[int64][]chatmodel.ChatMessage
	historyErr error
	gates      map[int64]chan struct{} // History(peer) waits on gates[peer] if set
	started    chan int64
	calls      []int64
	read       []int64
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		friends: []chatmodel.Friend{
			{ID: bobFriend, UserID: bobID, FriendUserID: selfID, Status: true, User: chatmodel.FriendUser{UserID: bobID, Username: "bob"}},
			{ID: carolFriend, UserID: carolID, FriendUserID: selfID, Status: true, User: chatmodel.FriendUser{UserID: carolID, Username: "carol"}},
		},
		history: map[int64][]chatmodel.ChatMessage{},
		gates:   map[int64]chan struct{}{},
		started: make(chan int64, 16),
	}
}

func (f *fakeAPI) Friends(context.Context, int64) ([]chatmodel.Friend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chatmodel.Friend(nil), f.friends...), nil
}

func (f *fakeAPI) FriendRequests(context.Context, int64) ([]chatmodel.Friend, error) {
	return []chatmodel.Friend{{ID: 200, UserID: 4, FriendUserID: selfID}}, nil
}

func (f *fakeAPI) History(ctx context.Context, token string, peer int64, limit, offset int) ([]chatmodel.ChatMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, peer)
	gate := f.gates[peer]
	msgs := append([]chatmodel.ChatMessage(nil), f.history[peer]...)
	err := f.historyErr
	f.mu.Unlock()

	f.started <- peer
	if gate != nil {
		<-gate
	}
	if token != "tok" || limit != 50 || offset != 0 {
		return nil, fmt.Errorf("unexpected request token=%q limit=%d offset=%d", token, limit, offset)
	}
	return msgs, err
}

func (f *fakeAPI) MarkRead(_ context.Context, _ string, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, id)
	return nil
}

type recObserver struct {
	mu     sync.Mutex
	states []State
	alerts []string
	lists  int
}

func (o *recObserver) OnState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, s)
}

func (o *recObserver) OnMessages([]chatmodel.ChatMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lists++
}

func (o *recObserver) OnFriends([]chatmodel.Friend) {}

func (o *recObserver) OnAlert(msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.alerts = append(o.alerts, msg)
}

func (o *recObserver) snapshot() ([]State, []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.states...), append([]string(nil), o.alerts...)
}

// ---- helpers ----

func newTestSession(t *testing.T, api API, opts Options) *Session {
	t.Helper()
	opts.API = api
	sc := usermodel.SessionContext{Token: "tok", Identity: usermodel.Identity{ID: selfID, Username: "alice"}}
	s, err := NewSession(sc, opts)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(s.Teardown)
	if err := s.LoadFriends(context.Background()); err != nil {
		t.Fatalf("LoadFriends: %v", err)
	}
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func msg(id, from, to int64, at time.Duration) chatmodel.ChatMessage {
	return chatmodel.ChatMessage{
		ID:          id,
		SenderID:    from,
		RecipientID: to,
		Content:     fmt.Sprintf("m%d", id),
		Timestamp:   t0.Add(at),
		Status:      chatmodel.StatusSent,
	}
}

func frame(t *testing.T, kind chatmodel.MessageKind, payload any) string {
	t.Helper()
	b, err := chatmodel.NewEnvelope(kind, payload)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func messageIDs(ms []chatmodel.ChatMessage) []int64 {
	out := make([]int64, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func sameIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func unreadOf(s *Session, friendID int64) int {
	for _, f := range s.Friends() {
		if f.ID == friendID {
			return f.Unread
		}
	}
	return -1
}

// wsPeer plays the messaging endpoint.
type wsPeer struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	accepted atomic.Int32
}

func newWSPeer(t *testing.T) *wsPeer {
	t.Helper()
	p := &wsPeer{conns: make(chan *websocket.Conn, 8)}
	up := websocket.Upgrader{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/ws" || r.URL.Query().Get("id") != "1" || r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "bad handshake", http.StatusUnauthorized)
			return
		}
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.accepted.Add(1)
		p.conns <- c
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *wsPeer) base() string { return "ws" + strings.TrimPrefix(p.srv.URL, "http") }

func (p *wsPeer) next(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-p.conns:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(3 * time.Second):
		t.Fatalf("no connection accepted")
		return nil
	}
}

// gatedDialer blocks every dial until gate is closed.
type gatedDialer struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
}

func (d *gatedDialer) DialContext(ctx context.Context, u string, h http.Header) (*websocket.Conn, *http.Response, error) {
	d.calls.Add(1)
	<-d.gate
	if d.err != nil {
		return nil, nil, d.err
	}
	return websocket.DefaultDialer.DialContext(ctx, u, h)
}

// ===== construction =====

func TestNewSessionRequiresIdentity(t *testing.T) {
	if _, err := NewSession(usermodel.SessionContext{Token: "tok"}, Options{API: newFakeAPI()}); !errors.Is(err, errs.ErrIdentityInvalid) {
		t.Fatalf("err = %v", err)
	}
	sc := usermodel.SessionContext{Token: "tok", Identity: usermodel.Identity{ID: 1}}
	if _, err := NewSession(sc, Options{}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("missing api: err = %v", err)
	}
}

func TestWSURL(t *testing.T) {
	s := newTestSession(t, newFakeAPI(), Options{WSBaseURL: "wss://chat.example.com/"})
	if got := s.WSURL(); got != "wss://chat.example.com/api/chat/ws?id=1" {
		t.Fatalf("WSURL = %q", got)
	}
}

// ===== history =====

func TestSelectConversationSortsHistory(t *testing.T) {
	api := newFakeAPI()
	// reverse chronological, as some backends return it
	api.history[bobID] = []chatmodel.ChatMessage{
		msg(3, bobID, selfID, 3*time.Minute),
		msg(2, selfID, bobID, 2*time.Minute),
		msg(1, bobID, selfID, time.Minute),
	}
	s := newTestSession(t, api, Options{})

	if err := s.SelectConversation(context.Background(), bobFriend); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}
	if got := messageIDs(s.Messages()); !sameIDs(got, []int64{1, 2, 3}) {
		t.Fatalf("messages = %v, want ascending", got)
	}
	f, ok := s.Focus()
	if !ok || f.ID != bobFriend {
		t.Fatalf("focus = %+v %v", f, ok)
	}

	// selecting again ends in the same state
	if err := s.SelectConversation(context.Background(), bobFriend); err != nil {
		t.Fatalf("reselect: %v", err)
	}
	if got := messageIDs(s.Messages()); !sameIDs(got, []int64{1, 2, 3}) {
		t.Fatalf("after reselect = %v", got)
	}
}

func TestSelectUnknownFriend(t *testing.T) {
	s := newTestSession(t, newFakeAPI(), Options{})
	err := s.SelectConversation(context.Background(), 999)
	if !errors.Is(err, errs.ErrUnknownFriend) {
		t.Fatalf("err = %v", err)
	}
	if _, ok := s.Focus(); ok {
		t.Fatalf("focus must not change")
	}
}

func TestHistoryFailureClearsList(t *testing.T) {
	api := newFakeAPI()
	api.history[bobID] = []chatmodel.ChatMessage{msg(1, bobID, selfID, 0)}
	s := newTestSession(t, api, Options{})
	if err := s.SelectConversation(context.Background(), bobFriend); err != nil {
		t.Fatal(err)
	}
	f, _ := s.Focus()

	api.mu.Lock()
	api.historyErr = errs.ErrHTTPStatus.WrapMsg("boom", "status", 500)
	api.mu.Unlock()

	err := s.LoadHistory(context.Background(), f)
	if !errors.Is(err, errs.ErrHistoryFetch) {
		t.Fatalf("err = %v, want ErrHistoryFetch", err)
	}
	if n := len(s.Messages()); n != 0 {
		t.Fatalf("list not cleared: %d", n)
	}
}

func TestLoadHistoryNeedsFocus(t *testing.T) {
	s := newTestSession(t, newFakeAPI(), Options{})
	err := s.LoadHistory(context.Background(), chatmodel.Friend{ID: bobFriend, UserID: bobID})
	if !errors.Is(err, errs.ErrNotFocused) {
		t.Fatalf("err = %v", err)
	}
}

func TestStaleHistoryIsDiscarded(t *testing.T) {
	api := newFakeAPI()
	api.history[bobID] = []chatmodel.ChatMessage{msg(1, bobID, selfID, 0)}
	api.history[carolID] = []chatmodel.ChatMessage{msg(2, carolID, selfID, 0)}
	gate := make(chan struct{})
	api.gates[bobID] = gate
	s := newTestSession(t, api, Options{})

	done := make(chan error, 1)
	go func() { done <- s.SelectConversation(context.Background(), bobFriend) }()
	if peer := <-api.started; peer != bobID {
		t.Fatalf("first fetch for %d", peer)
	}

	if err := s.SelectConversation(context.Background(), carolFriend); err != nil {
		t.Fatalf("select carol: %v", err)
	}
	<-api.started
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("stale select returned %v", err)
	}

	if got := messageIDs(s.Messages()); !sameIDs(got, []int64{2}) {
		t.Fatalf("messages = %v, want carol's history only", got)
	}
}

// A push that lands while history is loading shows up at once and is then
// replaced by the fetched list.
func TestLivePushDuringHistoryLoad(t *testing.T) {
	api := newFakeAPI()
	api.history[bobID] = []chatmodel.ChatMessage{msg(1, bobID, selfID, 0)}
	gate := make(chan struct{})
	api.gates[bobID] = gate
	s := newTestSession(t, api, Options{})

	done := make(chan error, 1)
	go func() { done <- s.SelectConversation(context.Background(), bobFriend) }()
	<-api.started

	s.routeInbound([]byte(frame(t, chatmodel.KindNewPrivateMessage, msg(9, bobID, selfID, time.Minute))))
	if got := messageIDs(s.Messages()); !sameIDs(got, []int64{9}) {
		t.Fatalf("during fetch messages = %v, want [9]", got)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("select: %v", err)
	}
	if got := messageIDs(s.Messages()); !sameIDs(got, []int64{1}) {
		t.Fatalf("after fetch messages = %v, want [1]", got)
	}
}

// ===== inbound routing =====

func TestRouteInboundFilter(t *testing.T) {
	api := newFakeAPI()
	obs := &recObserver{}
	s := newTestSession(t, api, Options{Observer: obs})
	if err := s.SelectConversation(context.Background(), bobFriend); err != nil {
		t.Fatal(err)
	}

	docs := []string{
		frame(t, chatmodel.KindNewPrivateMessage, msg(10, bobID, selfID, 0)),   // from focus
		frame(t, chatmodel.KindNewPrivateMessage, msg(11, selfID, bobID, 0)),   // own echo
		frame(t, chatmodel.KindOfflineMessage, msg(12, carolID, selfID, 0)),    // other friend
		frame(t, chatmodel.KindNewPrivateMessage, msg(13, bobID, carolID, 0)),  // not ours
		frame(t, chatmodel.KindNewPrivateMessage, msg(14, selfID, carolID, 0)), // own, other chat
		frame(t, chatmodel.KindError, chatmodel.ErrorPayload{Code: "invalid_message"}),
		`{"type":"new_private_message","payload":`, // malformed
		`{"type":"presence","payload":{}}`,
		frame(t, chatmodel.KindOfflineMessage, msg(15, bobID, selfID, 0)),
		frame(t, chatmodel.KindNewPrivateMessage, msg(16, 9, selfID, 0)), // stranger
	}
	s.routeInbound([]byte(strings.Join(docs, "\n")))

	if got := messageIDs(s.Messages()); !sameIDs(got, []int64{10, 11, 15}) {
		t.Fatalf("messages = %v", got)
	}
	if n := unreadOf(s, carolFriend); n != 1 {
		t.Fatalf("carol unread = %d, want 1", n)
	}
	if n := unreadOf(s, bobFriend); n != 0 {
		t.Fatalf("bob unread = %d, want 0", n)
	}
	if _, alerts := obs.snapshot(); len(alerts) != 0 {
		t.Fatalf("unexpected alerts %v", alerts)
	}
}

// Live messages are appended as they come, never resorted.
func TestRouteInboundAppendsWithoutSorting(t *testing.T) {
	s := newTestSession(t, newFakeAPI(), Options{})
	if err := s.SelectConversation(context.Background(), bobFriend); err != nil {
		t.Fatal(err)
	}
	s.routeInbound([]byte(frame(t, chatmodel.KindNewPrivateMessage, msg(21, bobID, selfID, time.Hour))))
	s.routeInbound([]byte(frame(t, chatmodel.KindNewPrivateMessage, msg(20, bobID, selfID, 0))))
	if got := messageIDs(s.Messages()); !sameIDs(got, []int64{21, 20}) {
		t.Fatalf("messages = %v", got)
	}
}

func TestUnreadCountsAndReset(t *testing.T) {
	s := newTestSession(t, newFakeAPI(), Options{})

	for i := int64(0); i < 3; i++ {
		s.routeInbound([]byte(frame(t, chatmodel.KindNewPrivateMessage, msg(30+i, bobID, selfID, 0))))
	}
	if n := unreadOf(s, bobFriend); n != 3 {
		t.Fatalf("unread = %d, want 3", n)
	}
	if len(s.Messages()) != 0 {
		t.Fatalf("nothing is focused, list must stay empty")
	}

	// a reload keeps the counters
	if err := s.LoadFriends(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := unreadOf(s, bobFriend); n != 3 {
		t.Fatalf("unread after reload = %d", n)
	}

	if err := s.SelectConversation(context.Background(), bobFriend); err != nil {
		t.Fatal(err)
	}
	if n := unreadOf(s, bobFriend); n != 0 {
		t.Fatalf("unread after select = %d, want 0", n)
	}
}

func TestSendFailedEnvelopeAlerts(t *testing.T) {
	obs := &recObserver{}
	s := newTestSession(t, newFakeAPI(), Options{Observer: obs})
	s.routeInbound([]byte(frame(t, chatmodel.KindSendFailed, chatmodel.ErrorPayload{Code: "send_error", Message: "too long"})))
	if _, alerts := obs.snapshot(); len(alerts) != 1 || alerts[0] != SendFailedAlert {
		t.Fatalf("alerts = %v", alerts)
	}
}

// ===== send =====

func TestSendSilentNoOps(t *testing.T) {
	obs := &recObserver{}
	s := newTestSession(t, newFakeAPI(), Options{Observer: obs})

	// no focus
	s.SetDraft("hello")
	if err := s.SendDraft(); err != nil {
		t.Fatalf("no focus: %v", err)
	}
	if err := s.SelectConversation(context.Background(), bobFriend); err != nil {
		t.Fatal(err)
	}
	// channel Closed
	if err := s.SendDraft(); err != nil {
		t.Fatalf("closed channel: %v", err)
	}
	if s.Draft() != "hello" {
		t.Fatalf("draft changed to %q", s.Draft())
	}

	// whitespace only, even with an open channel
	s.mu.Lock()
	s.state = StateOpen
	s.ch = newChannel(s.gen, s.opts)
	s.mu.Unlock()
	s.SetDraft("   \t ")
	if err := s.SendDraft(); err != nil {
		t.Fatalf("whitespace: %v", err)
	}
	if s.Draft() != "   \t " {
		t.Fatalf("draft changed to %q", s.Draft())
	}
	if _, alerts := obs.snapshot(); len(alerts) != 0 {
		t.Fatalf("no-ops must not alert: %v", alerts)
	}
}

func TestSendWriteFailureKeepsDraft(t *testing.T) {
	obs := &recObserver{}
	s := newTestSession(t, newFakeAPI(), Options{Observer: obs})
	if err := s.SelectConversation(context.Background(), bobFriend); err != nil {
		t.Fatal(err)
	}
	// open state over a channel that never dialed: every write fails
	s.mu.Lock()
	s.state = StateOpen
	s.ch = newChannel(s.gen, s.opts)
	s.mu.Unlock()

	s.SetDraft("hi bob")
	err := s.SendDraft()
	if !errors.Is(err, errs.ErrSendFailed) || !errors.Is(err, errs.ErrChannel) {
		t.Fatalf("err = %v", err)
	}
	if s.Draft() != "hi bob" {
		t.Fatalf("draft lost: %q", s.Draft())
	}
	if _, alerts := obs.snapshot(); len(alerts) != 1 || alerts[0] != SendFailedAlert {
		t.Fatalf("alerts = %v", alerts)
	}
}

func TestSendAfterTeardownIsSilent(t *testing.T) {
	obs := &recObserver{}
	s := newTestSession(t, newFakeAPI(), Options{Observer: obs})
	if err := s.SelectConversation(context.Background(), bobFriend); err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	s.state = StateOpen
	s.ch = newChannel(s.gen, s.opts)
	s.mu.Unlock()

	// closed channel, EventClosed not handled yet
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	ch.Close()
	if err := ch.Write([]byte("x")); !errors.Is(err, ErrClosing) || !errors.Is(err, errs.ErrChannel) {
		t.Fatalf("write on closing channel = %v", err)
	}
	s.SetDraft("first")
	if err := s.SendDraft(); err != nil {
		t.Fatalf("send on closing channel = %v", err)
	}

	s.Teardown()
	s.SetDraft("second")
	if err := s.SendDraft(); err != nil {
		t.Fatalf("send after teardown = %v", err)
	}
	if s.Draft() != "second" {
		t.Fatalf("draft = %q", s.Draft())
	}
	if _, alerts := obs.snapshot(); len(alerts) != 0 {
		t.Fatalf("alerts = %v", alerts)
	}
}

// ===== live channel =====

func TestConnectSendReceiveTeardown(t *testing.T) {
	peer := newWSPeer(t)
	obs := &recObserver{}
	s := newTestSession(t, newFakeAPI(), Options{WSBaseURL: peer.base(), Observer: obs})
	ctx := context.Background()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	conn := peer.next(t)
	waitFor(t, "open", func() bool { return s.State() == StateOpen })
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect while open: %v", err)
	}
	if n := peer.accepted.Load(); n != 1 {
		t.Fatalf("accepted %d connections, want 1", n)
	}

	if err := s.SelectConversation(ctx, bobFriend); err != nil {
		t.Fatal(err)
	}
	// two documents coalesced into one frame
	push := frame(t, chatmodel.KindOfflineMessage, msg(7, bobID, selfID, 0)) + "\n" +
		frame(t, chatmodel.KindNewPrivateMessage, msg(8, selfID, bobID, time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(push)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "two messages", func() bool { return len(s.Messages()) == 2 })

	s.SetDraft("  hello bob  ")
	if err := s.SendDraft(); err != nil {
		t.Fatalf("SendDraft: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	var out chatmodel.OutboundMessage
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("outbound %q: %v", data, err)
	}
	if out.RecipientID != bobID || out.Content != "hello bob" {
		t.Fatalf("outbound = %+v", out)
	}
	if s.Draft() != "" {
		t.Fatalf("draft not cleared: %q", s.Draft())
	}

	s.Teardown()
	waitFor(t, "closed", func() bool { return s.State() == StateClosed })
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("server should see a normal close, got %v", err)
	}
	if err := s.Connect(ctx); err == nil {
		t.Fatalf("Connect after Teardown must fail")
	}

	states, _ := obs.snapshot()
	want := []State{StateConnecting, StateOpen, StateClosed}
	if len(states) != len(want) {
		t.Fatalf("states = %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}

func TestConnectIsNoOpWhileConnecting(t *testing.T) {
	d := &gatedDialer{gate: make(chan struct{}), err: errors.New("refused")}
	s := newTestSession(t, newFakeAPI(), Options{WSBaseURL: "ws://unused", Dialer: d})

	for i := 0; i < 3; i++ {
		if err := s.Connect(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "dial", func() bool { return d.calls.Load() == 1 })
	if s.State() != StateConnecting {
		t.Fatalf("state = %s", s.State())
	}
	close(d.gate)
	waitFor(t, "closed after dial error", func() bool { return s.State() == StateClosed })
	if d.calls.Load() != 1 {
		t.Fatalf("dials = %d", d.calls.Load())
	}

	// history keeps working with the channel down
	if err := s.SelectConversation(context.Background(), bobFriend); err != nil {
		t.Fatalf("select with channel down: %v", err)
	}
}

func TestOpenAfterTeardownIsClosed(t *testing.T) {
	peer := newWSPeer(t)
	obs := &recObserver{}
	d := &gatedDialer{gate: make(chan struct{})}
	s := newTestSession(t, newFakeAPI(), Options{WSBaseURL: peer.base(), Dialer: d, Observer: obs})

	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "dial", func() bool { return d.calls.Load() == 1 })
	s.Teardown()
	close(d.gate)

	conn := peer.next(t)
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("late channel should be closed")
	}
	waitFor(t, "closed", func() bool { return s.State() == StateClosed })
	states, _ := obs.snapshot()
	for _, st := range states {
		if st == StateOpen {
			t.Fatalf("session went Open after teardown: %v", states)
		}
	}
}

func TestRemoteCloseWithoutReconnect(t *testing.T) {
	peer := newWSPeer(t)
	s := newTestSession(t, newFakeAPI(), Options{WSBaseURL: peer.base()})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	conn := peer.next(t)
	waitFor(t, "open", func() bool { return s.State() == StateOpen })

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	_ = conn.Close()
	waitFor(t, "closed", func() bool { return s.State() == StateClosed })

	time.Sleep(50 * time.Millisecond)
	if n := peer.accepted.Load(); n != 1 {
		t.Fatalf("reconnected %d times with policy off", n-1)
	}
}

func TestRemoteCloseReconnects(t *testing.T) {
	peer := newWSPeer(t)
	s := newTestSession(t, newFakeAPI(), Options{
		WSBaseURL: peer.base(),
		Reconnect: ReconnectPolicy{Enabled: true, InitialInterval: 10 * time.Millisecond, MaxInterval: 20 * time.Millisecond, MaxRetries: 5},
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := peer.next(t)
	waitFor(t, "open", func() bool { return s.State() == StateOpen })

	_ = first.Close()
	peer.next(t)
	waitFor(t, "reopened", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.state == StateOpen && s.gen == 2
	})
}
