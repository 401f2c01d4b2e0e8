package controller

import (
	"net/http"
	"time"

	"codejudger/internal/judge/model"
	"codejudger/pkg/utils/logger"
	"codejudger/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// WatchStatus streams status snapshots over a websocket. A snapshot is sent
// whenever the status changes; the stream closes after a terminal one.
func (h *JudgeController) WatchStatus(c *gin.Context) {
	ctx := c.Request.Context()
	submissionID := c.Param("id")
	first, err := h.svc.GetStatus(ctx, submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(ctx, "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// The read side only services control frames and notices the peer leaving.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(rec model.StatusRecord) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(rec); err != nil {
			logger.Debug(ctx, "websocket write failed", zap.Error(err))
			return false
		}
		return true
	}
	closeNormal := func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "judged")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	}

	if !send(first) {
		return
	}
	if first.Status.IsTerminal() {
		closeNormal()
		return
	}

	poll := time.NewTicker(h.pollInterval)
	defer poll.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	last := first.Status
	for {
		select {
		case <-gone:
			return
		case <-ctx.Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-poll.C:
			rec, err := h.svc.GetStatus(ctx, submissionID)
			if err != nil {
				logger.Warn(ctx, "watch status lookup failed", zap.Error(err))
				continue
			}
			if rec.Status == last {
				continue
			}
			last = rec.Status
			if !send(rec) {
				return
			}
			if rec.Status.IsTerminal() {
				closeNormal()
				return
			}
		}
	}
}
