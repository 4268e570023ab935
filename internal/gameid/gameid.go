package gameid

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/coder/quartz"
)

// Bit layout of an ID, most significant first:
// 1 sign bit (always 0), 41 bits of milliseconds since Epoch,
// 10 bits of machine id and 12 bits of per-millisecond sequence.
const (
	timestampBits = 41
	machineBits   = 10
	sequenceBits  = 12

	MaxMachineID = 1<<machineBits - 1
	maxSequence  = 1<<sequenceBits - 1
	maxTimestamp = 1<<timestampBits - 1

	machineShift   = sequenceBits
	timestampShift = sequenceBits + machineBits
)

// Epoch is the zero point of the embedded timestamp.
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

var (
	ErrInvalidMachineID = errors.New("gameid: machine id must be between 0 and 1023")
	ErrClockSkew        = errors.New("gameid: clock moved backwards")
	ErrClockBeforeEpoch = errors.New("gameid: clock is before epoch")
	ErrTimestampRange   = errors.New("gameid: timestamp exceeds 41 bits")
	ErrMalformedID      = errors.New("gameid: malformed id")
)

// ClockSkewError reports a wall clock that moved behind the last issued id.
type ClockSkewError struct {
	Last    int64 // milliseconds since Epoch of the last id
	Current int64
}

func (e *ClockSkewError) Error() string {
	return fmt.Sprintf("gameid: clock moved backwards by %dms", e.Last-e.Current)
}

func (e *ClockSkewError) Is(target error) bool {
	return target == ErrClockSkew
}

// ID is a 64-bit, time ordered identifier. It is rendered as a base-10
// string wherever it leaves the process.
type ID int64

// String returns the base-10 rendering of the id.
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// MarshalJSON encodes the id as a quoted string so that consumers with
// float64 numbers do not lose precision.
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON accepts the quoted digit form produced by MarshalJSON.
func (id *ID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("%w: %s", ErrMalformedID, s)
	}
	parsed, err := ParseID(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseID parses a base-10 id string. Only ASCII digits are accepted.
func ParseID(s string) (ID, error) {
	if s == "" || len(s) > 19 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedID, s)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("%w: %q", ErrMalformedID, s)
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedID, s)
	}
	return ID(v), nil
}

// Parts is the decoded form of an ID.
type Parts struct {
	Timestamp time.Time
	MachineID int64
	Sequence  int64
}

// Parse splits an id into its timestamp, machine id and sequence.
func Parse(id ID) Parts {
	v := int64(id)
	ms := (v >> timestampShift) & maxTimestamp
	return Parts{
		Timestamp: Epoch.Add(time.Duration(ms) * time.Millisecond),
		MachineID: (v >> machineShift) & MaxMachineID,
		Sequence:  v & maxSequence,
	}
}

// IsFromMachine reports whether id was minted by a generator with machineID.
func IsFromMachine(id ID, machineID int64) bool {
	return Parse(id).MachineID == machineID
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock quartz.Clock) Option {
	return func(g *Generator) {
		g.clock = clock
	}
}

// Generator mints ids for a single machine. It is safe for concurrent use;
// callers share one instance per process.
type Generator struct {
	machineID int64
	clock     quartz.Clock

	mu       sync.Mutex
	lastMs   int64
	sequence int64
}

// NewGenerator creates a generator for machineID.
func NewGenerator(machineID int64, opts ...Option) (*Generator, error) {
	if machineID < 0 || machineID > MaxMachineID {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidMachineID, machineID)
	}
	g := &Generator{
		machineID: machineID,
		clock:     quartz.NewReal(),
		lastMs:    -1,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// MachineID returns the machine id embedded in every id this generator mints.
func (g *Generator) MachineID() int64 {
	return g.machineID
}

// Generate returns the next id. Ids from one generator are strictly
// increasing. When the sequence for the current millisecond is used up the
// call waits for the next millisecond.
func (g *Generator) Generate() (ID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now, err := g.millis()
	if err != nil {
		return 0, err
	}
	if now < g.lastMs {
		return 0, &ClockSkewError{Last: g.lastMs, Current: now}
	}

	if now == g.lastMs {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			now, err = g.waitNextMillis()
			if err != nil {
				return 0, err
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastMs = now

	return ID(now<<timestampShift | g.machineID<<machineShift | g.sequence), nil
}

// MustGenerate is Generate for callers that treat clock failures as fatal.
func (g *Generator) MustGenerate() ID {
	id, err := g.Generate()
	if err != nil {
		panic(err)
	}
	return id
}

func (g *Generator) millis() (int64, error) {
	now := g.clock.Now("gameid", "generate")
	if now.Before(Epoch) {
		return 0, ErrClockBeforeEpoch
	}
	ms := now.Sub(Epoch).Milliseconds()
	if ms > maxTimestamp {
		return 0, ErrTimestampRange
	}
	return ms, nil
}

// waitNextMillis spins until the clock passes lastMs. The wait is at most
// one millisecond on a healthy clock.
func (g *Generator) waitNextMillis() (int64, error) {
	for {
		now, err := g.millis()
		if err != nil {
			return 0, err
		}
		if now > g.lastMs {
			return now, nil
		}
		if now < g.lastMs {
			return 0, &ClockSkewError{Last: g.lastMs, Current: now}
		}
		runtime.Gosched()
	}
}
