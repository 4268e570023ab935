package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lox/holdemgrid/internal/game"
	"github.com/lox/holdemgrid/internal/gameid"
	"github.com/lox/holdemgrid/internal/table"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	sendBufferSize = 256
)

var ErrConnectionClosed = errors.New("server: connection closed")

// Connection is one client WebSocket. Outbound messages go through a
// buffered channel so table runners never block on the network.
type Connection struct {
	id        string
	conn      *websocket.Conn
	send      chan *Message
	server    *Server
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu       sync.RWMutex
	playerID string
}

func newConnection(conn *websocket.Conn, s *Server) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Connection{
		id:     id,
		conn:   conn,
		send:   make(chan *Message, sendBufferSize),
		server: s,
		logger: s.logger.WithPrefix("conn").With("conn_id", id),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins handling the connection
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// Close closes the connection
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// SendMessage queues msg without blocking. A client that cannot keep up is
// disconnected.
func (c *Connection) SendMessage(msg *Message) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		c.logger.Warn("Connection send buffer full, closing connection", "player_id", c.Player())
		_ = c.Close()
		return ErrConnectionClosed
	}
}

func (c *Connection) setPlayer(playerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playerID = playerID
}

// Player returns the player bound by hello, or "".
func (c *Connection) Player() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playerID
}

// Table returns the table the player is seated at, or 0.
func (c *Connection) Table() gameid.ID {
	id, _ := c.server.registry.TableOf(c.Player())
	return id
}

// readPump handles incoming messages from the client
func (c *Connection) readPump() {
	defer func() {
		_ = c.Close()
		c.server.unregister(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket error", "error", err)
			}
			return
		}
		c.handleMessage(&msg)
	}
}

// writePump handles outgoing messages to the client
func (c *Connection) writePump() {
	ticker := c.server.clock.NewTicker(pingPeriod, "conn", "ping")
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Debug("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// handleMessage processes incoming messages from the client
func (c *Connection) handleMessage(msg *Message) {
	c.logger.Debug("Received message", "type", msg.Type, "player_id", c.Player())

	if msg.Type != MessageTypeHello && msg.Type != MessageTypeListTables && c.Player() == "" {
		c.sendError("not_identified", "send hello first")
		return
	}

	switch msg.Type {
	case MessageTypeHello:
		var data HelloData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse hello data")
			return
		}
		c.handleHello(data)

	case MessageTypeJoinTable:
		var data JoinTableData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse join table data")
			return
		}
		c.handleJoinTable(data)

	case MessageTypeLeaveTable:
		c.handleLeaveTable()

	case MessageTypeListTables:
		c.reply(MessageTypeTableList, TableListData{Tables: c.server.registry.Tables()})

	case MessageTypePlayerAction:
		var data PlayerActionData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse player action data")
			return
		}
		c.handlePlayerAction(data)

	case MessageTypeStartHand:
		c.withRunner(func(r *table.Runner) error { return r.StartHand(c.ctx) })

	default:
		c.sendError("unknown_message_type", "Unknown message type: "+msg.Type.String())
	}
}

func (c *Connection) handleHello(data HelloData) {
	if data.PlayerID == "" {
		c.sendError("invalid_message", "playerId required")
		return
	}
	if current := c.Player(); current != "" && current != data.PlayerID {
		c.sendError("invalid_message", "connection already identified as "+current)
		return
	}

	c.setPlayer(data.PlayerID)
	c.server.bindPlayer(c)

	welcome := WelcomeData{PlayerID: data.PlayerID, ServerID: c.server.id, ConnectionID: c.id, TableID: c.Table()}
	c.logger.Info("Player identified", "player_id", data.PlayerID, "table_id", welcome.TableID)
	c.reply(MessageTypeWelcome, welcome)

	if welcome.TableID != 0 {
		if runner, err := c.server.registry.Runner(welcome.TableID); err == nil {
			_ = runner.Reconnect(c.ctx, data.PlayerID)
		}
	}
}

func (c *Connection) handleJoinTable(data JoinTableData) {
	playerID := c.Player()
	if current, ok := c.server.registry.TableOf(playerID); ok && current != data.TableID {
		c.sendError("already_seated", "already seated at table "+current.String())
		return
	}
	runner, err := c.server.registry.Runner(data.TableID)
	if err != nil {
		c.sendErr(err)
		return
	}

	seat := -1
	if data.Seat != nil {
		seat = *data.Seat
	}
	info, err := runner.Join(c.ctx, playerID, data.BuyIn, seat)
	if err != nil {
		c.sendErr(err)
		return
	}
	st, err := runner.Snapshot(c.ctx, playerID)
	if err != nil {
		c.sendErr(err)
		return
	}
	c.logger.Info("Player joined table", "player_id", playerID, "table_id", data.TableID, "seat", info.Seat)
	c.reply(MessageTypeTableJoined, TableJoinedData{Table: st.Table, Seat: info})
}

func (c *Connection) handleLeaveTable() {
	tableID := c.Table()
	ok := c.withRunner(func(r *table.Runner) error { return r.Leave(c.ctx, c.Player()) })
	if ok {
		c.reply(MessageTypeTableLeft, TableLeftData{TableID: tableID})
	}
}

func (c *Connection) handlePlayerAction(data PlayerActionData) {
	typ, err := game.ParseActionType(data.Type)
	if err != nil {
		c.sendErr(err)
		return
	}
	a := game.Action{Type: typ, Amount: data.Amount, PlayerID: c.Player(), Timestamp: data.Timestamp}
	c.withRunner(func(r *table.Runner) error { return r.Act(c.ctx, a) })
}

// withRunner runs fn against the player's table and reports any error to
// the client. It returns whether fn succeeded.
func (c *Connection) withRunner(fn func(r *table.Runner) error) bool {
	tableID := c.Table()
	if tableID == 0 {
		c.sendErr(table.ErrNotSeated)
		return false
	}
	runner, err := c.server.registry.Runner(tableID)
	if err == nil {
		err = fn(runner)
	}
	if err != nil {
		c.sendErr(err)
		return false
	}
	return true
}

func (c *Connection) reply(t MessageType, data any) {
	msg, err := NewMessage(t, data, c.server.clock.Now())
	if err != nil {
		c.logger.Error("Failed to encode message", "type", t, "error", err)
		return
	}
	_ = c.SendMessage(msg)
}

func (c *Connection) sendErr(err error) {
	c.sendError(errorCode(err), err.Error())
}

// sendError sends an error message to the client
func (c *Connection) sendError(code, message string) {
	c.reply(MessageTypeError, ErrorData{Code: code, Message: message})
}
