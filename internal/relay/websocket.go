package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 256 * 1024

	sendBuffer = 64
)

var errSendBufferFull = errors.New("relay send buffer full")

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// devices connect from arbitrary networks
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn adapts a gorilla connection to Conn. Writes go through a buffered
// channel drained by writePump so Send never blocks the caller.
type wsConn struct {
	id     string
	remote string
	ws     *websocket.Conn
	send   chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newWSConn(ws *websocket.Conn, remote string) *wsConn {
	return &wsConn{
		id:     uuid.NewString(),
		remote: remote,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *wsConn) ID() string         { return c.id }
func (c *wsConn) RemoteAddr() string { return c.remote }

func (c *wsConn) Send(env Envelope) error {
	msg, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return model.ErrDeviceNotConnected
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return model.ErrDeviceNotConnected
	default:
		return errSendBufferFull
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// Serve runs a device connection until it drops. The handler sees every
// inbound envelope and is told when the connection goes away.
func Serve(ctx context.Context, h *Handler, ws *websocket.Conn, remote string) {
	c := newWSConn(ws, remote)
	log.Debug().Str("conn_id", c.id).Str("remote", remote).Msg("relay connection opened")

	go c.writePump()
	c.readPump(ctx, h)

	c.Close()
	h.Disconnect(context.WithoutCancel(ctx), c.id)
}

func (c *wsConn) readPump(ctx context.Context, h *Handler) {
	defer c.ws.Close()
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { c.ws.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("conn_id", c.id).Msg("relay read error")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			reply, _ := NewEnvelope(TypeError, "", Failure{Failed: true, Message: "malformed message"})
			_ = c.Send(reply)
			continue
		}
		h.Dispatch(ctx, c, env)
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
