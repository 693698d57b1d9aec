package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// stream pushes a snapshot of the board whenever it changes. Notifications
// arriving faster than the client reads are coalesced.
func (h *Handlers) stream(c echo.Context) error {
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	changed := make(chan struct{}, 1)
	unsubscribe := h.board.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := c.Request().Context()
	send := true
	for {
		if send {
			if err := h.writeSnapshot(res); err != nil {
				h.logger.WithError(err).Debug("stream closed")
				return nil
			}
			flusher.Flush()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			send = true
		case <-ticker.C:
			send = false
			if _, err := res.Write([]byte(":ping\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

func (h *Handlers) writeSnapshot(w http.ResponseWriter) error {
	data, err := sonic.Marshal(h.board.Snapshot())
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(data)+64)
	buf = append(buf, "id: "...)
	buf = append(buf, uuid.NewString()...)
	buf = append(buf, "\nevent: snapshot\ndata: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	_, err = w.Write(buf)
	return err
}
