package chat

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/williamtheodoruswijaya/mood-bridge-v2/logger"
)

// ReconnectPolicy retries a channel that closed without Teardown.
// Disabled by default: a dropped channel stays Closed.
type ReconnectPolicy struct {
	Enabled         bool
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64 // 0 = unbounded
}

func (p ReconnectPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0
	eb.Reset()

	var b backoff.BackOff = eb
	if p.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, p.MaxRetries)
	}
	return backoff.WithContext(b, ctx)
}

// scheduleReconnectLocked arms a timer that calls Connect again.
func (s *Session) scheduleReconnectLocked() {
	if s.torndown || !s.opts.Reconnect.Enabled || s.retry != nil {
		return
	}
	if s.bo == nil {
		s.bo = s.opts.Reconnect.newBackOff(s.ctx)
	}
	d := s.bo.NextBackOff()
	if d == backoff.Stop {
		logger.Warnf("[Session] reconnect gave up user=%d", s.sc.UserID())
		return
	}
	logger.Infof("[Session] reconnect in %s user=%d", d, s.sc.UserID())
	s.retry = time.AfterFunc(d, func() {
		s.mu.Lock()
		s.retry = nil
		s.mu.Unlock()
		if err := s.Connect(s.ctx); err != nil {
			logger.Warnf("[Session] reconnect failed user=%d err=%v", s.sc.UserID(), err)
		}
	})
}
