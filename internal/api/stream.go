package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/biosig-go/internal/acquisition"
	"github.com/tphakala/biosig-go/internal/logger"
)

// Websocket timing
const (
	streamWriteWait  = 5 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
	streamBuffer     = 32 // blocks queued per client before drops
)

// blockMessage is one block as sent to clients, one row per channel
type blockMessage struct {
	Type      string      `json:"type"`
	Sequence  uint64      `json:"sequence"`
	Timestamp time.Time   `json:"timestamp"`
	Samples   int         `json:"samples"`
	Data      [][]float64 `json:"data"`
}

// formatMessage opens every stream
type formatMessage struct {
	Type       string `json:"type"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sampleRate"`
}

func newBlockMessage(b *acquisition.SampleBlock) blockMessage {
	rows := make([][]float64, b.Channels)
	for ch := range b.Channels {
		rows[ch] = b.Row(ch)
	}
	return blockMessage{
		Type:      "block",
		Sequence:  b.Sequence,
		Timestamp: b.Timestamp,
		Samples:   b.Samples,
		Data:      rows,
	}
}

func timeoutContext(c echo.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), d)
}

// streamBlocks upgrades to a websocket and forwards every published block
// until the client leaves or the server shuts down.
func (s *Server) streamBlocks(c echo.Context) error {
	if s.realtime == nil {
		return s.handleError(c, echo.NewHTTPError(http.StatusServiceUnavailable, "stream disabled"), "stream disabled")
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error
		s.recordStreamError("upgrade")
		s.log.Debug("websocket upgrade failed", logger.Error(err))
		return nil
	}

	s.wg.Add(1)
	defer s.wg.Done()

	blocks, unsubscribe := s.realtime.Subscribe(streamBuffer)
	defer unsubscribe()

	started := time.Now()
	if s.metrics != nil {
		s.metrics.HTTP.StreamConnectionStarted()
		defer func() { s.metrics.HTTP.StreamConnectionClosed(time.Since(started)) }()
	}
	log := s.log.With(logger.String("remote", c.RealIP()))
	log.Info("stream client connected")
	defer func() {
		log.Info("stream client disconnected", logger.Duration("duration", time.Since(started)))
	}()

	// The reader only serves control frames; it ends when the client goes away
	gone := make(chan struct{})
	_ = ws.SetReadDeadline(time.Now().Add(streamPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()
	defer func() {
		_ = ws.Close()
		<-gone
	}()

	format := s.realtime.Format()
	if err := s.writeJSON(ws, formatMessage{Type: "format", Channels: format.Channels, SampleRate: format.SampleRate}); err != nil {
		return nil
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-s.ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(streamWriteWait))
			return nil
		case <-gone:
			return nil
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				s.recordStreamError("ping")
				return nil
			}
		case b, ok := <-blocks:
			if !ok {
				return nil
			}
			if err := s.writeJSON(ws, newBlockMessage(b)); err != nil {
				return nil
			}
			if s.metrics != nil {
				s.metrics.HTTP.RecordStreamBlockSent()
			}
		}
	}
}

func (s *Server) writeJSON(ws *websocket.Conn, v any) error {
	if err := ws.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
		s.recordStreamError("deadline")
		return err
	}
	if err := ws.WriteJSON(v); err != nil {
		s.recordStreamError("write")
		return err
	}
	return nil
}

func (s *Server) recordStreamError(kind string) {
	if s.metrics != nil {
		s.metrics.HTTP.RecordStreamError(kind)
	}
}
