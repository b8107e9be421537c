package assets

import (
	"context"
	"sync"
)

// MemoryCatalog is a simple in-memory Catalog useful for tests.
type MemoryCatalog struct {
	mu     sync.Mutex
	owners map[int64]string
	lines  map[int64][]VoiceLine
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		owners: make(map[int64]string),
		lines:  make(map[int64][]VoiceLine),
	}
}

func (c *MemoryCatalog) SetScenario(scenarioID int64, ownerID string, lines []VoiceLine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners[scenarioID] = ownerID
	c.lines[scenarioID] = lines
}

func (c *MemoryCatalog) ScenarioOwner(_ context.Context, scenarioID int64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.owners[scenarioID]
	if !ok {
		return "", ErrScenarioNotFound
	}
	return owner, nil
}

func (c *MemoryCatalog) VoiceLinesWithAssets(_ context.Context, scenarioID int64) ([]VoiceLine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]VoiceLine, len(c.lines[scenarioID]))
	copy(out, c.lines[scenarioID])
	return out, nil
}
