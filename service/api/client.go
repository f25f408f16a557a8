package api

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	chatmodel "github.com/williamtheodoruswijaya/mood-bridge-v2/module/chat/model"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/tools/errs"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/tools/safe"
)

// Client talks to the backend REST API. It holds no credentials:
// authenticated calls take the bearer token explicitly.
type Client struct {
	rc *resty.Client
}

// Envelope is the backend's response wrapper.
type Envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func New(baseURL string, timeout time.Duration) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return NewWithResty(rc)
}

// NewWithResty lets callers bring their own transport settings.
func NewWithResty(rc *resty.Client) *Client {
	safe.MustNotNil(rc, "resty client")
	return &Client{rc: rc}
}

// Friends: GET /api/friend/all/{userId}
func (c *Client) Friends(ctx context.Context, userID int64) ([]chatmodel.Friend, error) {
	return c.friendList(ctx, "/api/friend/all/{id}", userID)
}

// FriendRequests: GET /api/friend/requests/{userId}
func (c *Client) FriendRequests(ctx context.Context, userID int64) ([]chatmodel.Friend, error) {
	return c.friendList(ctx, "/api/friend/requests/{id}", userID)
}

func (c *Client) friendList(ctx context.Context, path string, userID int64) ([]chatmodel.Friend, error) {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(userID, 10)).
		Get(path)
	if err := checkResponse(resp, err, path); err != nil {
		return nil, err
	}
	var env Envelope[[]chatmodel.Friend]
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, errs.WrapMsg(err, "decode friends", "path", path)
	}
	return env.Data, nil
}

// History: GET /api/chat/history?with_user_id=&limit=&offset= with bearer auth.
// Order of the returned slice is whatever the endpoint sent.
func (c *Client) History(ctx context.Context, token string, withUserID int64, limit, offset int) ([]chatmodel.ChatMessage, error) {
	const path = "/api/chat/history"
	resp, err := c.rc.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParams(map[string]string{
			"with_user_id": strconv.FormatInt(withUserID, 10),
			"limit":        strconv.Itoa(limit),
			"offset":       strconv.Itoa(offset),
		}).
		Get(path)
	if err := checkResponse(resp, err, path); err != nil {
		return nil, err
	}
	msgs, err := decodeHistory(resp.Body())
	if err != nil {
		return nil, errs.WrapMsg(err, "decode history", "with_user_id", withUserID)
	}
	return msgs, nil
}

// MarkRead: POST /api/chat/messages/{id}/read with bearer auth.
func (c *Client) MarkRead(ctx context.Context, token string, messageID int64) error {
	const path = "/api/chat/messages/{message_id}/read"
	resp, err := c.rc.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetPathParam("message_id", strconv.FormatInt(messageID, 10)).
		Post(path)
	return checkResponse(resp, err, path)
}

func checkResponse(resp *resty.Response, err error, path string) error {
	if err != nil {
		return errs.WrapMsg(err, "request failed", "path", path)
	}
	if resp.IsError() {
		msg := ""
		var env Envelope[json.RawMessage]
		if json.Unmarshal(resp.Body(), &env) == nil {
			msg = env.Message
		}
		return errs.ErrHTTPStatus.WrapMsg(msg, "path", path, "status", resp.StatusCode())
	}
	return nil
}

// historyItem accepts both flat messages and {type, payload} wrapped ones.
type historyItem struct {
	chatmodel.ChatMessage
	Type    chatmodel.MessageKind `json:"type"`
	Payload json.RawMessage       `json:"payload"`
}

// decodeHistory accepts the {code,message,data:[...]} envelope or a bare array.
func decodeHistory(body []byte) ([]chatmodel.ChatMessage, error) {
	body = bytes.TrimSpace(body)
	var items []historyItem
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
	} else {
		var env Envelope[[]historyItem]
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, err
		}
		items = env.Data
	}

	out := make([]chatmodel.ChatMessage, 0, len(items))
	for _, it := range items {
		if len(it.Payload) > 0 && string(it.Payload) != "null" {
			var m chatmodel.ChatMessage
			if err := json.Unmarshal(it.Payload, &m); err != nil {
				return nil, err
			}
			if it.Type.IsChat() {
				m.Kind = it.Type
			}
			out = append(out, m)
			continue
		}
		out = append(out, it.ChatMessage)
	}
	return out, nil
}
