package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"sfu-gateway/internal/auth"
	"sfu-gateway/internal/model"
	"sfu-gateway/internal/selection"
)

// selectRequest is the only message a client sends on /room.
type selectRequest struct {
	ExcludeID model.SfuID `json:"excludeId,omitempty"`
}

type errorMessage struct {
	Error string `json:"error"`
}

// roomSession is one client on /room. It has two loops: one answers
// reselection requests, the other relays track changes. When either ends
// the socket is closed and the other follows.
type roomSession struct {
	g        *Gateway
	conn     *websocket.Conn
	identity auth.Identity
	strategy string
	logger   *slog.Logger

	writeMu sync.Mutex
}

func (g *Gateway) handleRoom(w http.ResponseWriter, r *http.Request) {
	identity, err := g.auth.Authenticate(r)
	if err != nil {
		g.logger.Info("room connection refused", "error", err)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("room upgrade failed", "error", err)
		return
	}

	s := &roomSession{
		g:        g,
		conn:     conn,
		identity: identity,
		strategy: r.URL.Query().Get("selectionStrategy"),
		logger: g.logger.With(
			"conn_id", uuid.NewString(),
			"room_id", identity.RoomID,
			"user_id", identity.UserID,
		),
	}

	g.metrics.RoomSessionOpened()
	defer g.metrics.RoomSessionClosed()

	s.logger.Info("room session started")
	err = s.run(g.ctx)
	s.logger.Info("room session ended", "reason", err)
}

func (s *roomSession) run(parent context.Context) error {
	defer s.conn.Close()

	// Capture the cursor before listing tracks so nothing recorded between
	// the listing and the first poll is missed.
	cursor := s.g.registry.StartCursor(parent, s.identity.RoomID)
	if err := s.sendSelection(parent, ""); err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(parent)
	group.Go(func() error { return s.readLoop(ctx) })
	group.Go(func() error { return s.pollLoop(ctx, cursor) })
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()
	return group.Wait()
}

// sendSelection picks an SFU and sends it immediately followed by the
// room's tracks. Selection failures are reported to the client; only write errors are
// returned.
func (s *roomSession) sendSelection(ctx context.Context, excludeID model.SfuID) error {
	tracks := s.g.registry.GetTracksInRoom(ctx, s.identity.RoomID)

	res, err := s.g.selector.Select(ctx, selection.Request{
		Strategy:   s.strategy,
		Tracks:     tracks,
		ExcludeID:  excludeID,
		ScheduleID: s.identity.ScheduleID,
		OrgID:      s.identity.OrgID,
		Cookie:     s.identity.AuthCookie,
	})
	if err != nil {
		s.logger.Warn("no sfu selected", "error", err, "exclude_id", excludeID)
		return s.writeJSON(errorMessage{Error: err.Error()})
	}
	s.logger.Info("sfu selected", "sfu_id", res.SfuID, "strategy", res.Strategy, "tracks", len(tracks))

	return s.writeJSON(
		[]model.TrackInfoEvent{model.SfuSelectedEvent(res.SfuID)},
		model.AddEvents(tracks),
	)
}

func (s *roomSession) readLoop(ctx context.Context) error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}

		var req selectRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if err := s.writeJSON(errorMessage{Error: "invalid request: " + err.Error()}); err != nil {
				return err
			}
			continue
		}
		if err := s.sendSelection(ctx, req.ExcludeID); err != nil {
			return err
		}
	}
}

func (s *roomSession) pollLoop(ctx context.Context, cursor string) error {
	for {
		changes, err := s.g.registry.AwaitTrackChanges(ctx, s.identity.RoomID, cursor)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.logger.Warn("track change poll failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollRetryDelay):
			}
			continue
		}

		cursor = changes.Cursor
		if len(changes.Events) == 0 {
			continue
		}
		if err := s.writeJSON(changes.Events); err != nil {
			return err
		}
		s.g.metrics.AddTrackEventsForwarded(len(changes.Events))
	}
}

// writeJSON sends each of vs as its own message. No other write can land
// between them.
func (s *roomSession) writeJSON(vs ...any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	for _, v := range vs {
		if err := s.conn.WriteJSON(v); err != nil {
			return err
		}
	}
	return nil
}
