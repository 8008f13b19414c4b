package idgen

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/sonyflake"
)

// ProvisionalIDGenerator produces client-side message ids for optimistic
// timeline inserts. Server-assigned message ids are positive integers, so
// provisional ids are always negative and can never collide with a
// confirmed id.
type ProvisionalIDGenerator interface {
	// NextID generates a new provisional message id (always negative).
	NextID() int64
}

// SonyflakeGenerator implements ProvisionalIDGenerator using sonyflake.
type SonyflakeGenerator struct {
	sf *sonyflake.Sonyflake
}

// NewSonyflakeGenerator creates a new SonyflakeGenerator.
func NewSonyflakeGenerator(machineID uint16) (*SonyflakeGenerator, error) {
	st := sonyflake.Settings{
		StartTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		MachineID: func() (uint16, error) {
			return machineID, nil
		},
	}

	sf, err := sonyflake.New(st)
	if err != nil {
		return nil, fmt.Errorf("failed to create sonyflake: %w", err)
	}

	return &SonyflakeGenerator{sf: sf}, nil
}

// NextID generates a new provisional id.
func (g *SonyflakeGenerator) NextID() int64 {
	id, err := g.sf.NextID()
	if err != nil {
		// Sonyflake only fails when the clock runs far ahead of its
		// lifetime; fall back to the counter generator.
		return fallbackNextID()
	}
	// Mask to 62 bits before negating so the result stays in int64 range.
	return -int64(id & 0x3fffffffffffffff)
}

// CounterGenerator implements ProvisionalIDGenerator using a
// timestamp-seeded counter. Used as a fallback when sonyflake is
// unavailable.
type CounterGenerator struct {
	counter atomic.Int64
}

// NewCounterGenerator creates a new CounterGenerator.
func NewCounterGenerator() *CounterGenerator {
	g := &CounterGenerator{}
	g.counter.Store(time.Now().UnixNano())
	return g
}

// NextID generates a new provisional id.
func (g *CounterGenerator) NextID() int64 {
	v := g.counter.Add(1)
	if v < 0 {
		v = -v
	}
	return -v
}

// Global default generator
var (
	defaultGenerator ProvisionalIDGenerator
	fallback         *CounterGenerator
	once             sync.Once
)

func fallbackNextID() int64 {
	once.Do(initDefault)
	return fallback.NextID()
}

func initDefault() {
	fallback = NewCounterGenerator()
	if defaultGenerator == nil {
		if gen, err := NewSonyflakeGenerator(1); err == nil {
			defaultGenerator = gen
		} else {
			defaultGenerator = fallback
		}
	}
}

// SetDefaultGenerator sets the default generator. Must be called before
// the first NextID to take effect.
func SetDefaultGenerator(gen ProvisionalIDGenerator) {
	defaultGenerator = gen
}

// NextID generates a provisional id using the default generator.
func NextID() int64 {
	once.Do(initDefault)
	return defaultGenerator.NextID()
}
