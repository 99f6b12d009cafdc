package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"capdissector/internal/engine"
	"capdissector/internal/models"
	"capdissector/internal/packet"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 512 // buffered channel size; frames are dropped when full
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSClient wraps a WebSocket connection and implements engine.Client.
type WSClient struct {
	conn   *websocket.Conn
	eng    *engine.Engine
	log    *zap.Logger
	sendCh chan models.WSMessage
	done   chan struct{}
}

// NewWSClient creates a WSClient and registers it with the engine.
func NewWSClient(conn *websocket.Conn, eng *engine.Engine, log *zap.Logger) *WSClient {
	c := &WSClient{
		conn:   conn,
		eng:    eng,
		log:    log,
		sendCh: make(chan models.WSMessage, sendBuffer),
		done:   make(chan struct{}),
	}
	eng.RegisterClient(c)
	go c.writeLoop()
	return c
}

// SendMessage queues a message for async delivery. It never blocks: frame
// broadcasts are dropped when the buffer is full.
func (c *WSClient) SendMessage(msg models.WSMessage) error {
	select {
	case <-c.done:
		return nil
	default:
	}
	select {
	case c.sendCh <- msg:
		return nil
	default:
		if msg.Type != "frame" {
			// Make room for control messages by dropping one queued frame
			select {
			case <-c.sendCh:
			default:
			}
			select {
			case c.sendCh <- msg:
			default:
			}
		}
		return nil
	}
}

// writeLoop drains the send channel and writes to the WebSocket.
func (c *WSClient) writeLoop() {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Debug("websocket write failed", zap.Error(err))
				return
			}

			// Flush whatever queued up in the meantime in one burst
			n := len(c.sendCh)
			for i := 0; i < n; i++ {
				msg = <-c.sendCh
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteJSON(msg); err != nil {
					return
				}
			}
		case <-c.done:
			return
		}
	}
}

// ReadLoop reads messages from the client and dispatches commands.
func (c *WSClient) ReadLoop() {
	defer func() {
		c.eng.UnregisterClient(c)
		close(c.done)
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg models.WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("invalid message format")
			continue
		}
		c.handleCommand(msg)
	}
}

func (c *WSClient) handleCommand(msg models.WSMessage) {
	switch msg.Type {
	case "get_interfaces":
		ifaces, err := c.eng.GetInterfaces()
		if err != nil {
			c.sendError("failed to list interfaces: " + err.Error())
			return
		}
		c.send("interfaces", ifaces)

	case "start_capture":
		var req models.StartCaptureRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendError("invalid start_capture payload")
			return
		}
		if err := c.eng.StartCapture(req); err != nil {
			c.sendError("capture failed: " + err.Error())
			return
		}

	case "stop_capture":
		c.eng.StopCapture()

	case "get_frame":
		var req models.FrameRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendError("invalid get_frame payload")
			return
		}
		var doc []byte
		err := c.eng.Frame(req.Number, func(p *packet.Packet) (err error) {
			doc, err = p.Document()
			return err
		})
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.send("frame_document", models.FrameDocument{Number: req.Number, Document: string(doc)})

	case "find_fields":
		var q models.FieldQuery
		if err := json.Unmarshal(msg.Payload, &q); err != nil {
			c.sendError("invalid find_fields payload")
			return
		}
		var fields []models.FieldInfo
		err := c.eng.Frame(q.Number, func(p *packet.Packet) (err error) {
			fields, err = findFields(p, q)
			return err
		})
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.send("fields", models.FieldQueryResult{Number: q.Number, Fields: fields})

	default:
		c.sendError("unknown command: " + msg.Type)
	}
}

func (c *WSClient) send(typ string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.log.Error("marshal websocket payload", zap.String("type", typ), zap.Error(err))
		return
	}
	c.SendMessage(models.WSMessage{Type: typ, Payload: payload})
}

func (c *WSClient) sendError(message string) {
	c.send("error", models.ErrorPayload{Message: message})
}

func (a *API) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := NewWSClient(conn, a.eng, a.log)
	client.ReadLoop()
}
