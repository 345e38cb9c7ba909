package services

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

type Client struct {
	userID uint
	conn   *websocket.Conn
	hub    *Hub
	send   chan []byte
	once   sync.Once
}

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

// --------------------
// Client read/write pumps
// --------------------
func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c.userID)
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.hub.log.Debugf("[Client %d] disconnected normally", c.userID)
			} else {
				c.hub.log.Debugf("[Client %d] read error: %v", c.userID, err)
			}
			return
		}

		func(msg []byte) {
			defer func() {
				if r := recover(); r != nil {
					c.hub.log.Errorf("[Client %d] recovered from panic: %v", c.userID, r)
				}
			}()

			var data struct {
				Action     string `json:"action"`
				CardNumber int    `json:"card_number"`
				Position   int    `json:"position"`
			}
			if err := json.Unmarshal(msg, &data); err != nil {
				c.hub.log.Debugf("[Client %d] invalid message: %v", c.userID, err)
				return
			}
			c.hub.handleAction(c, data.Action, data.CardNumber, data.Position)
		}(message)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.hub.log.Debugf("[Client %d] write error: %v", c.userID, err)
			return
		}
	}
}

func (c *Client) notify(message string) {
	defer func() {
		if r := recover(); r != nil {
			c.hub.log.Debugf("[Client %d] recovered notification: %v", c.userID, r)
		}
	}()

	payload, _ := json.Marshal(map[string]string{
		"type":    "notification",
		"message": message,
	})
	select {
	case c.send <- payload:
	default:
		c.hub.log.Debugf("[Client %d] dropping notification", c.userID)
	}
}
