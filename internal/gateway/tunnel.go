package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"sfu-gateway/internal/model"
)

// handshakeHeaders are set by the dialer itself and must not be copied
// from the client request.
var handshakeHeaders = map[string]bool{
	"Upgrade":                  true,
	"Connection":               true,
	"Sec-Websocket-Key":        true,
	"Sec-Websocket-Version":    true,
	"Sec-Websocket-Extensions": true,
	"Sec-Websocket-Protocol":   true,
}

func (g *Gateway) handleSfuID(w http.ResponseWriter, r *http.Request) {
	sfuID := model.SfuID(chi.URLParam(r, "sfuId"))
	addr, err := g.registry.GetSfuAddress(r.Context(), sfuID)
	if err != nil {
		g.logger.Info("cannot resolve sfu", "sfu_id", sfuID, "error", err)
		hijackClose(w)
		return
	}
	g.tunnel(w, r, "ws://"+addr+r.URL.RequestURI(), slog.String("sfu_id", string(sfuID)))
}

// handleLegacyRoom serves v1 SFUs, which expect a bare connection with no
// path.
func (g *Gateway) handleLegacyRoom(w http.ResponseWriter, r *http.Request) {
	roomID := model.RoomID(chi.URLParam(r, "roomId"))
	addr, ok, err := g.registry.GetLegacySfuAddressByRoomID(r.Context(), roomID)
	if err != nil || !ok {
		g.logger.Info("no legacy sfu for room", "room_id", roomID, "error", err)
		hijackClose(w)
		return
	}
	g.tunnel(w, r, "ws://"+addr, slog.String("room_id", string(roomID)))
}

// tunnel connects to target first and only then accepts the client, so a
// client never sees a handshake for an SFU that is not there. Frames are
// copied unchanged in both directions until either side closes.
func (g *Gateway) tunnel(w http.ResponseWriter, r *http.Request, target string, attr slog.Attr) {
	log := g.logger.With(attr, slog.String("conn_id", uuid.NewString()), slog.String("target", target))

	header := http.Header{}
	for k, vs := range r.Header {
		if !handshakeHeaders[k] {
			header[k] = vs
		}
	}
	dialer := g.dialer
	dialer.Subprotocols = websocket.Subprotocols(r)

	upstream, resp, err := dialer.DialContext(r.Context(), target, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		log.Warn("sfu dial failed", "error", err)
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	defer upstream.Close()

	var respHeader http.Header
	if p := upstream.Subprotocol(); p != "" {
		respHeader = http.Header{"Sec-Websocket-Protocol": {p}}
	}
	client, err := g.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		log.Debug("client upgrade failed", "error", err)
		return
	}
	defer client.Close()

	g.metrics.TunnelOpened()
	defer g.metrics.TunnelClosed()
	log.Info("tunnel opened")

	errc := make(chan error, 2)
	go func() { errc <- pump(upstream, client) }()
	go func() { errc <- pump(client, upstream) }()

	select {
	case err = <-errc:
	case <-g.ctx.Done():
		err = g.ctx.Err()
		shutdown := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
		deadline := time.Now().Add(time.Second)
		_ = client.WriteControl(websocket.CloseMessage, shutdown, deadline)
		_ = upstream.WriteControl(websocket.CloseMessage, shutdown, deadline)
	}
	client.Close()
	upstream.Close()
	log.Info("tunnel closed", "reason", err)
}

// pump copies messages from src to dst. When src fails it sends dst a
// close frame carrying src's close code, if it had one.
func pump(dst, src *websocket.Conn) error {
	for {
		mt, data, err := src.ReadMessage()
		if err != nil {
			_ = dst.WriteControl(websocket.CloseMessage, closeMessageFor(err), time.Now().Add(time.Second))
			return err
		}
		if err := dst.WriteMessage(mt, data); err != nil {
			return err
		}
	}
}

func closeMessageFor(err error) []byte {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	}
	switch ce.Code {
	case websocket.CloseNoStatusReceived:
		return websocket.FormatCloseMessage(websocket.CloseNoStatusReceived, "")
	case websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
		return websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	}
	return websocket.FormatCloseMessage(ce.Code, ce.Text)
}
