package gateway

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parrishsteve/splatcast/errors"
	"github.com/parrishsteve/splatcast/model"
	"github.com/parrishsteve/splatcast/pkg/timestamp"
	"github.com/parrishsteve/splatcast/queue"
	"github.com/parrishsteve/splatcast/session"
)

// Application close codes in the websocket private range. Standard codes
// (1000 normal, 1011 internal) are used for the rest.
const (
	CloseInvalidParams = 4000
	CloseNotFound      = 4004
	CloseQuotaExceeded = 4008
)

const writeWait = 10 * time.Second

// wsConn adapts a gorilla connection to session.Conn. A mutex serializes
// writes since close frames and event writes come from different goroutines.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

func (c *wsConn) closeWith(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	_ = c.conn.Close()
}

// handleSubscribe upgrades to a websocket and bridges the topic's stream to
// the client. Validation happens after the upgrade so failures surface as
// close codes the client can distinguish: 4000 invalid parameters, 4004
// unknown app/topic/schema, 4008 session quota, 1011 internal.
//
// Query parameters: schemaId or schemaName request delivery in a specific
// schema (events in other schemas are translated through a registered
// transformer or skipped); fromTimestamp replays from a position (epoch
// millis or RFC3339).
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	conn := &wsConn{conn: raw}

	app, err := s.resolveApp(r)
	if err != nil {
		conn.closeWith(CloseNotFound, "unknown app")
		return
	}
	topic, err := s.resolver.Topic(r.Context(), app.ID, topicRef(r))
	if err != nil {
		conn.closeWith(closeCodeFor(err), "unknown topic")
		return
	}

	from, err := parseFrom(r.URL.Query().Get("fromTimestamp"))
	if err != nil {
		conn.closeWith(CloseInvalidParams, "invalid fromTimestamp")
		return
	}

	var opts []session.SessionOption
	if ref := schemaQueryRef(r); !ref.IsZero() {
		want, err := s.resolver.Schema(r.Context(), app.ID, ref)
		if err != nil {
			conn.closeWith(closeCodeFor(err), "unknown schema")
			return
		}
		mapper, err := s.schemaMapper(r.Context(), topic, want.ID)
		if err != nil {
			conn.closeWith(closeCodeFor(err), "no transform to requested schema")
			return
		}
		if mapper != nil {
			opts = append(opts, session.WithMapper(mapper))
		}
	}

	if s.config.MaxSessionsPerApp > 0 && s.hub.CountForApp(app.ID) >= s.config.MaxSessionsPerApp {
		conn.closeWith(CloseQuotaExceeded, "session limit reached")
		return
	}

	// The session outlives the request; the handler's context dies as soon
	// as this function returns.
	ch := queue.Channel{AppID: app.ID, TopicID: topic.ID}
	sess, err := s.hub.Create(context.Background(), ch, conn, from, opts...)
	if err != nil {
		s.logger.Error("session create failed", "channel", ch.String(), "error", err)
		conn.closeWith(websocket.CloseInternalServerErr, "subscription failed")
		return
	}

	// Read pump: inbound data frames are logged, not acted on; reading
	// drives close detection and control frames.
	go func() {
		for {
			_, msg, rerr := raw.ReadMessage()
			if rerr != nil {
				s.hub.Destroy(sess.ID)
				return
			}
			s.logger.Debug("ignoring inbound frame",
				"session_id", sess.ID, "bytes", len(msg))
		}
	}()
}

// schemaMapper resolves the transform that translates the topic's stream
// into the subscriber's requested schema. The transformer is bound at
// subscribe time: a topic with no default schema cannot anchor a specific
// output schema and fails fast, and a missing transformer is a subscribe
// failure rather than a silent pass-through. A nil mapper with nil error
// means the stream is already in the requested schema.
func (s *Server) schemaMapper(ctx context.Context, topic *model.Topic, wantSchemaID int64) (session.Mapper, error) {
	if topic.DefaultSchemaID == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData,
			"Server", "schemaMapper", "output schema requires a topic default schema")
	}
	if *topic.DefaultSchemaID == wantSchemaID {
		return nil, nil
	}
	tr, err := s.registry.Find(ctx, topic.ID, topic.DefaultSchemaID, wantSchemaID)
	if err != nil {
		return nil, err
	}

	return func(ev *queue.Event) (*queue.Event, bool) {
		if ev.SchemaID == wantSchemaID {
			return ev, true
		}
		data, err := s.registry.Apply(context.Background(), tr, ev.Data)
		if err != nil {
			// A bad event must not take the session down with it.
			s.logger.Warn("subscriber-side transform failed",
				"event_id", ev.ID, "transformer_id", tr.ID, "error", err)
			return nil, false
		}
		mapped := *ev
		mapped.SchemaID = wantSchemaID
		mapped.Data = data
		mapped.TransformsApplied = append(append([]string{}, ev.TransformsApplied...), tr.Name)
		return &mapped, true
	}, nil
}

// closeCodeFor separates not-found from bad-reference failures.
func closeCodeFor(err error) int {
	if errors.KindOf(err) == errors.KindNotFound {
		return CloseNotFound
	}
	return CloseInvalidParams
}

func schemaQueryRef(r *http.Request) model.SchemaRef {
	q := r.URL.Query()
	if raw := q.Get("schemaId"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return model.RefByID(id)
		}
	}
	if name := q.Get("schemaName"); name != "" {
		return model.RefByName(name)
	}
	return model.SchemaRef{}
}

// parseFrom interprets the replay position parameter. Empty means live
// tail. A future position is valid; nothing is delivered until events
// arrive at or after it.
func parseFrom(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	ms := timestamp.Parse(raw)
	if ms == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Server", "parseFrom", "timestamp parse")
	}
	t := time.UnixMilli(ms)
	return &t, nil
}
