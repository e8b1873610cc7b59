// Package session bridges broker consumers to live subscriber connections.
// Each session owns one ephemeral consumer and one connection; events flow
// through a bounded dispatch queue so a slow client never stalls the
// consume loop, and dispatch order matches stream order.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parrishsteve/splatcast/queue"
)

// Conn is the subscriber-facing connection a session writes to. The
// gateway's websocket connections satisfy it.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// dispatchQueueSize bounds the per-session backlog. When the queue is full
// the oldest pending event is dropped so live delivery keeps up.
const dispatchQueueSize = 256

// Mapper rewrites or filters an event before delivery. Returning false
// drops the event for this subscriber. Mappers run on the session's write
// goroutine; CPU-heavy work inside them (schema translation through the
// sandbox) is bounded by the sandbox's own worker pool.
type Mapper func(ev *queue.Event) (*queue.Event, bool)

// Session delivers one channel's events to one connection. Create sessions
// through a Hub.
type Session struct {
	ID      string
	Channel queue.Channel

	consumer queue.Consumer
	conn     Conn
	logger   *slog.Logger
	onClose  func(id string)
	mapper   Mapper

	dispatch chan *queue.Event
	done     chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup

	delivered atomic.Int64
	dropped   atomic.Int64
}

// start attaches the consumer and launches the write loop. from positions
// replay; nil tails new events only.
func (s *Session) start(ctx context.Context, from *time.Time) error {
	if err := s.consumer.Start(ctx, s.Channel, from, s.enqueue); err != nil {
		return err
	}
	s.wg.Add(1)
	go s.writeLoop()
	return nil
}

// enqueue runs on the consume loop. It never blocks: when the subscriber
// falls behind by more than the queue depth, the oldest pending event is
// dropped in favor of the new one.
func (s *Session) enqueue(ev *queue.Event) {
	if s.closed.Load() {
		return
	}
	for {
		select {
		case s.dispatch <- ev:
			return
		case <-s.done:
			return
		default:
		}
		select {
		case old := <-s.dispatch:
			s.dropped.Add(1)
			s.logger.Warn("dropping event for slow subscriber",
				"session_id", s.ID, "event_id", old.ID)
		default:
		}
	}
}

// writeLoop drains the dispatch queue to the connection in order. A write
// failure tears the session down.
func (s *Session) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case ev := <-s.dispatch:
			if s.mapper != nil {
				mapped, keep := s.mapper(ev)
				if !keep {
					continue
				}
				ev = mapped
			}
			if err := s.conn.WriteJSON(ev); err != nil {
				s.logger.Debug("subscriber write failed, closing session",
					"session_id", s.ID, "error", err)
				go s.Close()
				return
			}
			s.delivered.Add(1)
		case <-s.done:
			return
		}
	}
}

// Close stops the consumer, ends dispatch, and closes the connection. Safe
// to call from any goroutine, any number of times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if err := s.consumer.Stop(); err != nil {
			s.logger.Debug("consumer stop on session close", "session_id", s.ID, "error", err)
		}
		close(s.done)
		s.wg.Wait()
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("connection close", "session_id", s.ID, "error", err)
		}
		if s.onClose != nil {
			s.onClose(s.ID)
		}
	})
}

// Stats reports delivery counters for the session.
func (s *Session) Stats() (delivered, dropped int64) {
	return s.delivered.Load(), s.dropped.Load()
}
