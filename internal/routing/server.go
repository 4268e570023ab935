package routing

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"time"
)

var (
	ErrDuplicateServer   = errors.New("routing: server already registered")
	ErrServerNotFound    = errors.New("routing: server not found")
	ErrInvalidServer     = errors.New("routing: invalid server")
	ErrNoServerAvailable = errors.New("routing: no server available")
)

// ErrorCode maps routing errors to API error codes.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateServer):
		return "duplicate_server"
	case errors.Is(err, ErrServerNotFound):
		return "server_not_found"
	case errors.Is(err, ErrInvalidServer):
		return "invalid_server"
	case errors.Is(err, ErrNoServerAvailable):
		return "no_server_available"
	default:
		return "internal_error"
	}
}

func errorForCode(code string) error {
	switch code {
	case "duplicate_server":
		return ErrDuplicateServer
	case "server_not_found":
		return ErrServerNotFound
	case "invalid_server":
		return ErrInvalidServer
	case "no_server_available":
		return ErrNoServerAvailable
	}
	return nil
}

// Status is the routing state of a worker.
type Status int

const (
	StatusOnline Status = iota
	StatusOffline
	StatusMaintenance
	StatusOverloaded
)

var statusNames = [...]string{"online", "offline", "maintenance", "overloaded"}

func (s Status) String() string {
	if s < StatusOnline || s > StatusOverloaded {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("%w: unknown status %q", ErrInvalidServer, text)
}

// Metrics is the load a worker reports on each heartbeat.
type Metrics struct {
	Tables      int     `json:"tables"`
	ActiveGames int     `json:"activeGames"`
	Players     int     `json:"players"`
	CPU         float64 `json:"cpu"`
	Memory      float64 `json:"memory"`
	LatencyMs   float64 `json:"latencyMs"`
	// Seated lists players with a live seat on the worker.
	Seated []string `json:"seated,omitempty"`
}

// ServerInfo is one worker as seen by the authority.
type ServerInfo struct {
	ID            string    `json:"id"`
	Status        Status    `json:"status"`
	Address       string    `json:"address"`
	Region        string    `json:"region,omitempty"`
	MaxTables     int       `json:"maxTables"`
	Metrics       Metrics   `json:"metrics"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	RegisteredAt  time.Time `json:"registeredAt"`
}

// Validate checks the fields a worker must supply when registering.
func (s ServerInfo) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidServer)
	}
	if _, _, err := net.SplitHostPort(s.Address); err != nil {
		return fmt.Errorf("%w: address %q: %v", ErrInvalidServer, s.Address, err)
	}
	if s.MaxTables < 0 {
		return fmt.Errorf("%w: negative table capacity", ErrInvalidServer)
	}
	return nil
}

// FreeTables is how many more tables the server can host; -1 means
// unlimited.
func (s ServerInfo) FreeTables() int {
	if s.MaxTables == 0 {
		return -1
	}
	return max(s.MaxTables-s.Metrics.Tables, 0)
}

func (s ServerInfo) clone() ServerInfo {
	s.Metrics.Seated = slices.Clone(s.Metrics.Seated)
	return s
}

// Criteria narrows the servers a player may be routed to. Zero values do not
// filter.
type Criteria struct {
	Region        string        `json:"region,omitempty"`
	MaxLatency    time.Duration `json:"maxLatency,omitempty"`
	MinFreeTables int           `json:"minFreeTables,omitempty"`
}

func (c Criteria) accepts(s ServerInfo) bool {
	if s.Status != StatusOnline {
		return false
	}
	if c.Region != "" && s.Region != c.Region {
		return false
	}
	if c.MaxLatency > 0 && time.Duration(s.Metrics.LatencyMs*float64(time.Millisecond)) > c.MaxLatency {
		return false
	}
	if free := s.FreeTables(); free >= 0 && free < max(c.MinFreeTables, 1) {
		return false
	}
	return true
}
