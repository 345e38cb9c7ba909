package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub pushes game snapshots to connected clients and relays their
// card-selection and claim actions into the services.
type Hub struct {
	view   *ViewService
	cards  *CardService
	settle *SettlementService
	engine *LifecycleEngine
	log    *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[uint]*Client
}

func NewHub(view *ViewService, cards *CardService, settle *SettlementService, engine *LifecycleEngine, log *zap.SugaredLogger) *Hub {
	return &Hub{
		view:    view,
		cards:   cards,
		settle:  settle,
		engine:  engine,
		log:     log,
		clients: make(map[uint]*Client),
	}
}

// HandleWebSocket upgrades the connection and registers the client.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	userIDStr := c.Query("user")
	if userIDStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user query param"})
		return
	}
	userID64, err := strconv.ParseUint(userIDStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Errorf("[WS] upgrade error: %v", err)
		return
	}

	client := &Client{
		userID: uint(userID64),
		conn:   conn,
		hub:    h,
		send:   make(chan []byte, 32),
	}
	h.addClient(client)
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if old, ok := h.clients[c.userID]; ok {
		old.Close()
	}
	h.clients[c.userID] = c
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()

	h.log.Infof("[WS] user %d connected (total=%d)", c.userID, h.clientCount())
	h.Broadcast()
}

func (h *Hub) removeClient(userID uint) {
	h.mu.Lock()
	client, ok := h.clients[userID]
	if ok {
		delete(h.clients, userID)
		client.Close()
	}
	h.mu.Unlock()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) handleAction(c *Client, action string, cardNumber, position int) {
	game, err := h.engine.CurrentGame()
	if err != nil {
		c.notify("No game is running right now.")
		return
	}

	switch action {
	case "select_card":
		if _, _, err := h.cards.SelectCard(game.ID, c.userID, cardNumber); err != nil {
			c.notify(fmt.Sprintf("Could not select card %d: %v", cardNumber, err))
			return
		}
	case "mark":
		if err := h.cards.MarkCell(game.ID, c.userID, position); err != nil {
			c.notify(fmt.Sprintf("Could not mark cell: %v", err))
			return
		}
	case "bingo":
		result, err := h.settle.ClaimBingo(game.ID, c.userID)
		if err != nil {
			c.notify(fmt.Sprintf("Claim rejected: %v", err))
			return
		}
		c.notify(fmt.Sprintf("BINGO! You won %.2f on %s", result.Prize, result.WinningLine))
	default:
		h.log.Debugf("[WS] user %d unknown action: %s", c.userID, action)
		return
	}
	h.Refresh(game.ID)
}

// Refresh drops the cached snapshot for the game and pushes a fresh
// one. Mutating handlers call this so clients see the write at once.
func (h *Hub) Refresh(gameID uint) {
	h.view.Invalidate(gameID)
	h.Broadcast()
}

// Broadcast pushes the current formatted game to every client.
func (h *Hub) Broadcast() {
	game, err := h.engine.CurrentGame()
	if err != nil {
		return
	}
	snapshot, err := h.view.GetFormattedGame(game.ID)
	if err != nil {
		h.log.Errorf("[WS] snapshot failed: %v", err)
		return
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"type": "state",
		"game": snapshot,
	})

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	// A client may close its send channel between the snapshot above
	// and the push below; the per-client recover keeps one dead client
	// from killing the broadcast ticker.
	for _, c := range clients {
		func(c *Client) {
			defer func() {
				if r := recover(); r != nil {
					h.log.Debugf("[WS] recovered state push to user %d: %v", c.userID, r)
				}
			}()
			select {
			case c.send <- payload:
			default:
				h.log.Debugf("[WS] dropping state push to user %d", c.userID)
			}
		}(c)
	}
}
