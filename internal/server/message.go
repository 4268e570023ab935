package server

import (
	"encoding/json"
	"time"

	"github.com/lox/holdemgrid/internal/gameid"
	"github.com/lox/holdemgrid/internal/table"
)

// Message is the envelope of every WebSocket frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
	EventID   gameid.ID       `json:"eventId,omitempty"`
	TableID   gameid.ID       `json:"tableId,omitempty"`
}

// NewMessage encodes data into a message stamped at now.
func NewMessage(messageType MessageType, data any, now time.Time) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{Type: messageType, Data: dataBytes, Timestamp: now}, nil
}

// fromTable wraps an outbound table message.
func fromTable(msg table.Message, now time.Time) (*Message, error) {
	m, err := NewMessage(MessageType(msg.Type), msg.Data, now)
	if err != nil {
		return nil, err
	}
	m.EventID = msg.EventID
	m.TableID = msg.TableID
	return m, nil
}

// Client → Server Messages

type HelloData struct {
	PlayerID string `json:"playerId"`
}

type JoinTableData struct {
	TableID gameid.ID `json:"tableId"`
	BuyIn   int       `json:"buyIn"`
	Seat    *int      `json:"seat,omitempty"`
}

type PlayerActionData struct {
	Type      string    `json:"type"`
	Amount    int       `json:"amount,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Server → Client Messages

type WelcomeData struct {
	PlayerID     string    `json:"playerId"`
	ServerID     string    `json:"serverId"`
	ConnectionID string    `json:"connectionId"`
	TableID      gameid.ID `json:"tableId,omitempty"`
}

type TableJoinedData struct {
	Table table.Table    `json:"table"`
	Seat  table.SeatInfo `json:"seat"`
}

type TableLeftData struct {
	TableID gameid.ID `json:"tableId"`
}

type TableListData struct {
	Tables []table.Table `json:"tables"`
}

type ErrorData = table.ErrorData
