package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mossy-p/roomdrop/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware.
		return true
	},
}

// Connect upgrades the transport and runs a per-connection session. Room
// membership is established by the join_room event, not by the URL, so a
// connection can switch rooms without reconnecting.
func (a *API) Connect(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade", zap.Error(err))
		return
	}

	deviceID := c.Query("deviceId")
	guestName := c.Query("name")
	s := session.New(conn, deviceID, guestName, a.deps)

	a.logger.Info("connection opened",
		zap.String("conn", s.ConnID()),
		zap.String("device", s.DeviceID()),
	)
	s.Run(c.Request.Context())
}
