package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	chatmodel "github.com/williamtheodoruswijaya/mood-bridge-v2/module/chat/model"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/tools/errs"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/tools/safe"
)

// ---- Conversation history: Redis Streams ----
//
//	im:msg:seq            INCR 消息ID
//	im:msg:{id}           HASH body(json) status
//	im:dm:{lo}:{hi}       STREAM 会话索引, 每条 entry 只存 id
//	im:unread:{user}      ZSET score=timestamp(ms) member=id

const streamMaxLen = 100_000

func DMKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("im:dm:%d:%d", a, b)
}

func msgKey(id int64) string        { return "im:msg:" + strconv.FormatInt(id, 10) }
func unreadKey(user int64) string   { return "im:unread:" + strconv.FormatInt(user, 10) }
func scoreOf(t time.Time) float64   { return float64(t.UnixMilli()) }
func idMember(id int64) string      { return strconv.FormatInt(id, 10) }
func parseID(v any) (int64, error)  { return strconv.ParseInt(fmt.Sprint(v), 10, 64) }
func sinceScore(t time.Time) string { return "(" + strconv.FormatInt(t.UnixMilli(), 10) }

const seqKey = "im:msg:seq"

type RedisStore struct {
	rdb   *redis.Client
	Clock func() time.Time
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	safe.MustNotNil(rdb, "redis client")
	return &RedisStore{rdb: rdb, Clock: time.Now}
}

func (s *RedisStore) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *RedisStore) Save(ctx context.Context, m *chatmodel.ChatMessage) error {
	id, err := s.rdb.Incr(ctx, seqKey).Result()
	if err != nil {
		return errors.Wrap(err, "redis incr seq")
	}
	m.ID = id
	m.Timestamp = s.now().UTC()
	m.Status = chatmodel.StatusSent
	m.Kind = ""

	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, msgKey(id), map[string]any{
			"body":   body,
			"status": string(m.Status),
		})
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: DMKey(m.SenderID, m.RecipientID),
			Values: map[string]any{"id": id},
			Approx: true,
			MaxLen: streamMaxLen,
		})
		pipe.ZAdd(ctx, unreadKey(m.RecipientID), redis.Z{Score: scoreOf(m.Timestamp), Member: idMember(id)})
		return nil
	})
	return errors.Wrapf(err, "redis save message %d", id)
}

func (s *RedisStore) Conversation(ctx context.Context, a, b int64, limit, offset int) ([]chatmodel.ChatMessage, error) {
	entries, err := s.rdb.XRange(ctx, DMKey(a, b), "-", "+").Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis xrange")
	}
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		id, err := parseID(e.Values["id"])
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	msgs, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	sortAsc(msgs)
	return page(msgs, limit, offset), nil
}

func (s *RedisStore) Unread(ctx context.Context, user int64, since time.Time) ([]chatmodel.ChatMessage, error) {
	members, err := s.rdb.ZRangeByScore(ctx, unreadKey(user), &redis.ZRangeBy{
		Min: sinceScore(since),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis zrangebyscore")
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		if id, err := parseID(m); err == nil {
			ids = append(ids, id)
		}
	}
	msgs, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	sortAsc(msgs)
	return msgs, nil
}

func (s *RedisStore) SetStatus(ctx context.Context, id int64, st chatmodel.MessageStatus) error {
	h, err := s.rdb.HGetAll(ctx, msgKey(id)).Result()
	if err != nil {
		return errors.Wrap(err, "redis hgetall")
	}
	if len(h) == 0 {
		return errs.ErrInvalidInput.WrapMsg("message not found", "id", id)
	}
	if chatmodel.MessageStatus(h["status"]) == chatmodel.StatusRead {
		return nil // read is final
	}
	var m chatmodel.ChatMessage
	if err := json.Unmarshal([]byte(h["body"]), &m); err != nil {
		return errors.Wrapf(err, "decode message %d", id)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, msgKey(id), "status", string(st))
		if st == chatmodel.StatusRead {
			pipe.ZRem(ctx, unreadKey(m.RecipientID), idMember(id))
		}
		return nil
	})
	return errors.Wrapf(err, "redis set status %d", id)
}

// load 批量读取消息，缺失的 id 跳过
func (s *RedisStore) load(ctx context.Context, ids []int64) ([]chatmodel.ChatMessage, error) {
	if len(ids) == 0 {
		return []chatmodel.ChatMessage{}, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, msgKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "redis hgetall")
	}

	out := make([]chatmodel.ChatMessage, 0, len(ids))
	for _, c := range cmds {
		h := c.Val()
		if len(h) == 0 {
			continue
		}
		var m chatmodel.ChatMessage
		if err := json.Unmarshal([]byte(h["body"]), &m); err != nil {
			continue
		}
		if st := h["status"]; st != "" {
			m.Status = chatmodel.MessageStatus(st)
		}
		out = append(out, m)
	}
	return out, nil
}
