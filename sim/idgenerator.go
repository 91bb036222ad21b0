package sim

import (
	"strconv"

	"github.com/rs/xid"
)

// IDGenerator can generate IDs
type IDGenerator interface {
	// Generate an ID
	Generate() string
}

// NewSequentialIDGenerator returns a generator that produces "1", "2", ...
// Each engine owns one, so IDs are deterministic per run.
func NewSequentialIDGenerator() IDGenerator {
	return &sequentialIDGenerator{}
}

// NewGlobalIDGenerator returns a generator of globally unique IDs. The IDs
// are not deterministic, so they are only suitable for naming runs.
func NewGlobalIDGenerator() IDGenerator {
	return globalIDGenerator{}
}

type sequentialIDGenerator struct {
	nextID uint64
}

func (g *sequentialIDGenerator) Generate() string {
	g.nextID++
	return strconv.FormatUint(g.nextID, 10)
}

type globalIDGenerator struct {
}

func (g globalIDGenerator) Generate() string {
	return xid.New().String()
}
