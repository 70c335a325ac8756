package services

import (
	"sync"

	"github.com/gorilla/websocket"
)

// WSConnManager - websocket-соединения пользователей (у одного пользователя может быть несколько вкладок)
type WSConnManager struct {
	mu    sync.RWMutex
	users map[string][]*wsConn
}

// у gorilla/websocket допустим только один писатель на соединение
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWSConnManager() *WSConnManager {
	return &WSConnManager{
		users: make(map[string][]*wsConn),
	}
}

func (m *WSConnManager) Add(userID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = append(m.users[userID], &wsConn{conn: conn})
}

func (m *WSConnManager) Remove(userID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns := m.users[userID]
	for i, c := range conns {
		if c.conn == conn {
			m.users[userID] = append(conns[:i:i], conns[i+1:]...)
			break
		}
	}
	if len(m.users[userID]) == 0 {
		delete(m.users, userID)
	}
}

func (m *WSConnManager) Connected(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[userID])
}

func (m *WSConnManager) Send(userID string, message []byte) {
	m.mu.RLock()
	conns := append([]*wsConn(nil), m.users[userID]...)
	m.mu.RUnlock()
	for _, c := range conns {
		c.mu.Lock()
		_ = c.conn.WriteMessage(websocket.TextMessage, message)
		c.mu.Unlock()
	}
}

var GlobalWSConnManager = NewWSConnManager()
