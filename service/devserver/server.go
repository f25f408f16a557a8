package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/williamtheodoruswijaya/mood-bridge-v2/logger"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/middleware"
	midsec "github.com/williamtheodoruswijaya/mood-bridge-v2/middleware/security"
	chatmodel "github.com/williamtheodoruswijaya/mood-bridge-v2/module/chat/model"
	usermodel "github.com/williamtheodoruswijaya/mood-bridge-v2/module/user/model"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/tools/errs"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/tools/safe"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/tools/security"
)

type Config struct {
	Addr           string
	JwtSecret      []byte
	TokenTTL       time.Duration
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendQueue      int
	AllowOrigins   []string
}

// Server is a local stand-in for the messaging backend: friend lists,
// history, mark-read and the live channel, with the same wire format.
type Server struct {
	cfg    Config
	store  Store
	dir    *Directory
	hub    *Hub
	auth   *midsec.Options
	engine *gin.Engine

	upgrader websocket.Upgrader
	Clock    func() time.Time
}

func New(cfg Config, store Store, dir *Directory) *Server {
	if store == nil {
		store = NewMemoryStore()
	}
	if dir == nil {
		dir = NewDirectory()
	}
	s := &Server{
		cfg:   cfg,
		store: store,
		dir:   dir,
		hub:   NewHub(cfg.WriteWait, cfg.PongWait, cfg.MaxMessageSize, cfg.SendQueue),
		auth:  midsec.DefaultOptions(cfg.JwtSecret),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		Clock: time.Now,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Directory() *Directory { return s.dir }

// IssueToken signs a token for a known user, shaped like the backend's.
func (s *Server) IssueToken(userID int64) (string, error) {
	u, ok := s.dir.User(userID)
	if !ok {
		return "", errs.ErrInvalidInput.WrapMsg("unknown user", "user", userID)
	}
	opts := security.DefaultOptions(s.cfg.JwtSecret)
	if s.cfg.TokenTTL > 0 {
		opts.TTL = s.cfg.TokenTTL
	}
	tok, _, err := security.Generate(opts, u)
	return tok, err
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.engine}
	errCh := make(chan error, 1)
	safe.Go("devserver.http", func() {
		logger.Infof("[DevServer] listening on %s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	})

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	mids := middleware.NewManager(gin.Recovery(), middleware.Origin(s.cfg.AllowOrigins...))
	mids.Add(middleware.RequestLog())
	r.Use(mids.Handlers()...)

	api := r.Group("/api")
	auth := middleware.RouteOpt{IsAuth: true, Auth: s.auth}

	friend := api.Group("/friend")
	middleware.GET(friend, "/all/:id", s.handleFriends, middleware.RouteOpt{})
	middleware.GET(friend, "/requests/:id", s.handleFriendRequests, middleware.RouteOpt{})

	chat := api.Group("/chat")
	middleware.GET(chat, "/ws", s.handleWS, auth)
	middleware.GET(chat, "/history", s.handleHistory, auth)
	middleware.POST(chat, "/messages/:message_id/read", s.handleMarkRead, auth)
	return r
}

// ===== REST =====

func reply(c *gin.Context, status int, message string, data any) {
	c.JSON(status, gin.H{
		"code":    status,
		"message": message,
		"data":    data,
	})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"code":    status,
		"message": message,
	})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func identityOf(c *gin.Context) (usermodel.Identity, bool) {
	v, ok := c.Get(midsec.CtxIdentityKey)
	if !ok {
		return usermodel.Identity{}, false
	}
	u, ok := v.(usermodel.Identity)
	return u, ok && !u.IsZero()
}

func (s *Server) handleFriends(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		fail(c, http.StatusBadRequest, "Invalid user ID")
		return
	}
	reply(c, http.StatusOK, "Friends fetched successfully", s.dir.Friends(id))
}

func (s *Server) handleFriendRequests(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		fail(c, http.StatusBadRequest, "Invalid user ID")
		return
	}
	reply(c, http.StatusOK, "Friend requests fetched successfully", s.dir.Requests(id))
}

func (s *Server) handleHistory(c *gin.Context) {
	me, ok := identityOf(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	with, err := strconv.ParseInt(c.Query("with_user_id"), 10, 64)
	if err != nil || with <= 0 {
		fail(c, http.StatusBadRequest, "Invalid recipient ID")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		fail(c, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		fail(c, http.StatusBadRequest, "Invalid offset")
		return
	}

	msgs, err := s.store.Conversation(c.Request.Context(), me.ID, with, limit, offset)
	if err != nil {
		logger.Errorf("[DevServer] history user=%d with=%d err=%v", me.ID, with, err)
		fail(c, http.StatusInternalServerError, "Failed to fetch chat history")
		return
	}
	reply(c, http.StatusOK, "Chat history fetched successfully", msgs)
}

func (s *Server) handleMarkRead(c *gin.Context) {
	me, ok := identityOf(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	id, ok := pathID(c, "message_id")
	if !ok {
		fail(c, http.StatusBadRequest, "Invalid message ID")
		return
	}
	if err := s.store.SetStatus(c.Request.Context(), id, chatmodel.StatusRead); err != nil {
		if errors.Is(err, errs.ErrInvalidInput) {
			fail(c, http.StatusNotFound, "Message not found")
			return
		}
		logger.Errorf("[DevServer] mark read user=%d id=%d err=%v", me.ID, id, err)
		fail(c, http.StatusInternalServerError, "Failed to mark message as read")
		return
	}
	reply(c, http.StatusOK, "Message marked as read successfully", nil)
}

// ===== 实时通道 =====

func (s *Server) handleWS(c *gin.Context) {
	me, ok := identityOf(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if q := c.Query("id"); q != "" && q != strconv.FormatInt(me.ID, 10) {
		logger.Warnf("[DevServer] ws id=%s does not match token user=%d, using token", q, me.ID)
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 握手失败时 Upgrade 已经写了响应
		logger.Infof("[DevServer] upgrade user=%d err=%v", me.ID, err)
		return
	}

	cl := s.hub.register(me.ID, conn)
	safe.Go("devserver.write", func() { s.hub.writePump(cl) })
	safe.Go("devserver.read", func() { s.hub.readPump(cl, s.onMessage) })

	s.deliverUnread(c.Request.Context(), cl)
}

// deliverUnread 上线补发最近 UnreadWindow 内的未读消息
func (s *Server) deliverUnread(ctx context.Context, cl *client) {
	since := s.Clock().Add(-UnreadWindow)
	msgs, err := s.store.Unread(ctx, cl.userID, since)
	if err != nil {
		logger.Errorf("[DevServer] unread user=%d err=%v", cl.userID, err)
		return
	}
	for _, m := range msgs {
		b, err := chatmodel.NewEnvelope(chatmodel.KindOfflineMessage, m)
		if err != nil {
			continue
		}
		if !s.hub.deliverTo(cl, b) {
			logger.Warnf("[DevServer] offline message %d not queued user=%d", m.ID, cl.userID)
		}
	}
	if len(msgs) > 0 {
		logger.Infof("[DevServer] queued %d offline messages user=%d", len(msgs), cl.userID)
	}
}

func (s *Server) onMessage(cl *client, data []byte) {
	var in chatmodel.OutboundMessage
	if err := json.Unmarshal(data, &in); err != nil {
		logger.Infof("[DevServer] bad frame user=%d err=%v", cl.userID, err)
		s.replyError(cl, chatmodel.KindError, "invalid_message", "Invalid message format")
		return
	}
	m, err := s.accept(context.Background(), cl.userID, in)
	if err != nil {
		logger.Infof("[DevServer] reject user=%d err=%v", cl.userID, err)
		s.replyError(cl, chatmodel.KindSendFailed, "send_error", err.Error())
		return
	}
	s.route(context.Background(), m)
}

// accept validates and stores one outbound message.
func (s *Server) accept(ctx context.Context, sender int64, in chatmodel.OutboundMessage) (chatmodel.ChatMessage, error) {
	switch {
	case strings.TrimSpace(in.Content) == "":
		return chatmodel.ChatMessage{}, errs.ErrInvalidInput.WrapMsg("message content cannot be empty")
	case utf8.RuneCountInString(in.Content) > chatmodel.MaxContentLen:
		return chatmodel.ChatMessage{}, errs.ErrInvalidInput.WrapMsg("message content too long", "max", chatmodel.MaxContentLen)
	case in.RecipientID <= 0:
		return chatmodel.ChatMessage{}, errs.ErrInvalidInput.WrapMsg("invalid recipient ID")
	case in.RecipientID == sender:
		return chatmodel.ChatMessage{}, errs.ErrInvalidInput.WrapMsg("sender and recipient cannot be the same")
	}
	if _, ok := s.dir.User(in.RecipientID); !ok {
		return chatmodel.ChatMessage{}, errs.ErrInvalidInput.WrapMsg("unknown recipient", "recipient", in.RecipientID)
	}

	m := chatmodel.ChatMessage{SenderID: sender, RecipientID: in.RecipientID, Content: in.Content}
	if err := s.store.Save(ctx, &m); err != nil {
		return chatmodel.ChatMessage{}, errs.WrapMsg(err, "failed to save message")
	}
	return m, nil
}

// route pushes m to the recipient and echoes it to the sender.
func (s *Server) route(ctx context.Context, m chatmodel.ChatMessage) {
	b, err := chatmodel.NewEnvelope(chatmodel.KindNewPrivateMessage, m)
	if err != nil {
		logger.Errorf("[DevServer] marshal message %d err=%v", m.ID, err)
		return
	}
	if s.hub.Deliver(m.RecipientID, b) {
		safe.Go("devserver.delivered", func() {
			if err := s.store.SetStatus(ctx, m.ID, chatmodel.StatusDelivered); err != nil {
				logger.Warnf("[DevServer] mark delivered %d err=%v", m.ID, err)
			}
		})
	} else {
		logger.Infof("[DevServer] recipient %d offline, message %d stored", m.RecipientID, m.ID)
	}
	s.hub.Deliver(m.SenderID, b)
}

func (s *Server) replyError(cl *client, kind chatmodel.MessageKind, code, msg string) {
	b, err := chatmodel.NewEnvelope(kind, chatmodel.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	s.hub.deliverTo(cl, b)
}
