package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"newsjunkies/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler - WebSocket, по которому клиент получает новое состояние ленты и профиля
func (h *Handlers) WSHandler(c *gin.Context) {
	ctl, ok := h.requireController(c)
	if !ok {
		return
	}
	userID := ctl.UserID()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		glog.Warningf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	services.GlobalWSConnManager.Add(userID, conn)
	defer services.GlobalWSConnManager.Remove(userID, conn)

	_ = services.SendWsState(userID, "posts", ctl.Posts.State())

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			glog.V(1).Infof("WebSocket of %s closed: %v", userID, err)
			break
		}
	}
}
