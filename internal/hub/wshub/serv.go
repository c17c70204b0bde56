package wshub

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"gatheringAccess/internal/hub"
)

// Serve returns a handler upgrading requests to WebSocket connections that
// are signed on to h for the lifetime of the connection. The upgrader keeps
// gorilla's default same-origin check.
func Serve(h *hub.Hub, log zerolog.Logger) http.HandlerFunc {
	upgr := &websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	return func(w http.ResponseWriter, r *http.Request) {
		wc, err := upgr.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("hub ws upgrade failed")
			return
		}
		c := newConn(wc, h.Chan())
		l := log.With().Int64("conn", c.id).Str("remote", r.RemoteAddr).Logger()
		l.Info().Msg("subscriber connected")

		hub.Signon(h, c)
		go c.write()
		err = c.read()
		hub.Signoff(h, c)
		close(c.done)
		if err != nil {
			l.Warn().Err(err).Msg("hub ws read failed")
			return
		}
		l.Info().Msg("subscriber disconnected")
	}
}
