package server

import "github.com/lox/holdemgrid/internal/table"

// MessageType names a WebSocket message.
type MessageType string

const (
	// Client to server messages
	MessageTypeHello        MessageType = "hello"
	MessageTypeJoinTable    MessageType = "join_table"
	MessageTypeLeaveTable   MessageType = "leave_table"
	MessageTypeListTables   MessageType = "list_tables"
	MessageTypePlayerAction MessageType = "player_action"
	MessageTypeStartHand    MessageType = "start_hand"

	// Server to client messages
	MessageTypeWelcome     MessageType = "welcome"
	MessageTypeTableJoined MessageType = "table_joined"
	MessageTypeTableLeft   MessageType = "table_left"
	MessageTypeTableList   MessageType = "table_list"

	// Table messages are relayed unchanged
	MessageTypeGameState      = MessageType(table.MessageGameState)
	MessageTypeActionRequired = MessageType(table.MessageActionRequired)
	MessageTypeHandResult     = MessageType(table.MessageHandResult)
	MessageTypePlayerJoined   = MessageType(table.MessagePlayerJoined)
	MessageTypePlayerLeft     = MessageType(table.MessagePlayerLeft)
	MessageTypeError          = MessageType(table.MessageError)
)

func (mt MessageType) String() string {
	return string(mt)
}
