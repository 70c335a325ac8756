package services

import (
	"encoding/json"

	"github.com/golang/glog"
)

// Notify - сообщение, которое уходит клиенту по websocket
type Notify struct {
	NotifyType string `json:"notify_type"`
	Message    string `json:"message,omitempty"`
	Payload    any    `json:"payload,omitempty"`
}

// SendWsNotify - отправка уведомления через WebSocket
func SendWsNotify(userID string, notifyType string, message string) error {
	if len(notifyType) == 0 {
		notifyType = "info"
	}
	if len(message) == 0 {
		return nil
	}
	if len(message) > 100 {
		message = message[:100] + "..."
	}
	return pushWs(userID, Notify{NotifyType: notifyType, Message: message})
}

// SendWsState отправляет клиенту новое состояние (ленты или профиля)
func SendWsState(userID string, notifyType string, state any) error {
	return pushWs(userID, Notify{NotifyType: notifyType, Payload: state})
}

func pushWs(userID string, n Notify) error {
	if GlobalWSConnManager.Connected(userID) == 0 {
		return nil
	}
	jsonData, err := json.Marshal(n)
	if err != nil {
		glog.Warningf("ws notify for %s: %v", userID, err)
		return err
	}
	GlobalWSConnManager.Send(userID, jsonData)
	return nil
}
