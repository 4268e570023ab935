package table

import (
	"errors"
	"fmt"
	"time"

	"github.com/lox/holdemgrid/internal/game"
)

// VariantHoldem is the only supported variant.
const VariantHoldem = "texas-holdem"

const (
	MinSeats = 2
	MaxSeats = 10

	defaultSeats           = 9
	defaultActionTimeout   = 30 * time.Second
	defaultDisconnectGrace = 60 * time.Second
	// DefaultAutoStartDelay is the pause between hands used by presets.
	DefaultAutoStartDelay = 3 * time.Second
)

var ErrInvalidConfig = errors.New("table: invalid config")

// BlindLevel is one step of a blind schedule. A level lasts Hands hands;
// the last level lasts forever.
type BlindLevel struct {
	SmallBlind int `json:"smallBlind"`
	BigBlind   int `json:"bigBlind"`
	Ante       int `json:"ante,omitempty"`
	Hands      int `json:"hands"`
}

// Config describes a table's stakes and timing.
type Config struct {
	Name            string        `json:"name,omitempty"`
	Variant         string        `json:"variant"`
	SmallBlind      int           `json:"smallBlind"`
	BigBlind        int           `json:"bigBlind"`
	Ante            int           `json:"ante,omitempty"`
	MinBuyIn        int           `json:"minBuyIn"`
	MaxBuyIn        int           `json:"maxBuyIn"`
	Seats           int           `json:"seats"`
	ActionTimeout   time.Duration `json:"actionTimeout"`
	DisconnectGrace time.Duration `json:"disconnectGrace"`
	// AutoStartDelay is the pause between hands; zero disables auto-start.
	AutoStartDelay time.Duration `json:"autoStartDelay"`
	BlindSchedule  []BlindLevel  `json:"blindSchedule,omitempty"`
	// Seed makes shuffles reproducible; each hand uses Seed plus its number.
	Seed *int64 `json:"seed,omitempty"`
}

// WithDefaults fills unset fields with sensible defaults.
func (c Config) WithDefaults() Config {
	if c.Variant == "" {
		c.Variant = VariantHoldem
	}
	if c.Seats == 0 {
		c.Seats = defaultSeats
	}
	if c.MinBuyIn == 0 {
		c.MinBuyIn = 20 * c.BigBlind
	}
	if c.MaxBuyIn == 0 {
		c.MaxBuyIn = 100 * c.BigBlind
	}
	if c.ActionTimeout == 0 {
		c.ActionTimeout = defaultActionTimeout
	}
	if c.DisconnectGrace == 0 {
		c.DisconnectGrace = defaultDisconnectGrace
	}
	return c
}

// Validate checks seat count, blind structure and buy-in bounds.
func (c Config) Validate() error {
	if c.Variant != VariantHoldem {
		return fmt.Errorf("%w: unsupported variant %q", ErrInvalidConfig, c.Variant)
	}
	if c.Seats < MinSeats || c.Seats > MaxSeats {
		return fmt.Errorf("%w: seats must be between %d and %d, got %d", ErrInvalidConfig, MinSeats, MaxSeats, c.Seats)
	}
	if err := validateBlinds(c.SmallBlind, c.BigBlind, c.Ante); err != nil {
		return err
	}
	if c.MinBuyIn < c.BigBlind {
		return fmt.Errorf("%w: minimum buy-in %d below big blind %d", ErrInvalidConfig, c.MinBuyIn, c.BigBlind)
	}
	if c.MaxBuyIn < c.MinBuyIn {
		return fmt.Errorf("%w: maximum buy-in %d below minimum %d", ErrInvalidConfig, c.MaxBuyIn, c.MinBuyIn)
	}
	if c.ActionTimeout <= 0 {
		return fmt.Errorf("%w: action timeout must be positive", ErrInvalidConfig)
	}
	if c.DisconnectGrace < 0 || c.AutoStartDelay < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	for i, level := range c.BlindSchedule {
		if err := validateBlinds(level.SmallBlind, level.BigBlind, level.Ante); err != nil {
			return fmt.Errorf("blind level %d: %w", i+1, err)
		}
		if level.Hands <= 0 && i < len(c.BlindSchedule)-1 {
			return fmt.Errorf("%w: blind level %d must last at least one hand", ErrInvalidConfig, i+1)
		}
	}
	return nil
}

func validateBlinds(sb, bb, ante int) error {
	switch {
	case sb <= 0:
		return fmt.Errorf("%w: small blind must be positive", ErrInvalidConfig)
	case bb <= sb:
		return fmt.Errorf("%w: big blind %d must exceed small blind %d", ErrInvalidConfig, bb, sb)
	case ante < 0:
		return fmt.Errorf("%w: ante must not be negative", ErrInvalidConfig)
	}
	return nil
}

// stakes returns the game config for the given blind level, falling back to
// the table's base blinds when there is no schedule.
func (c Config) stakes(level int) game.Config {
	gc := game.Config{
		SmallBlind:    c.SmallBlind,
		BigBlind:      c.BigBlind,
		Ante:          c.Ante,
		ActionTimeout: c.ActionTimeout,
	}
	if level >= 0 && level < len(c.BlindSchedule) {
		l := c.BlindSchedule[level]
		gc.SmallBlind, gc.BigBlind, gc.Ante = l.SmallBlind, l.BigBlind, l.Ante
	}
	return gc
}
