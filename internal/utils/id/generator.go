package id

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// Strategy identifies the identifier generation algorithm to use.
type Strategy int

const (
	// StrategyKSUID generates lexicographically sortable identifiers using KSUID.
	StrategyKSUID Strategy = iota
	// StrategyUUIDv7 generates time-ordered identifiers using UUID version 7.
	StrategyUUIDv7
)

var defaultGenerator = &Generator{strategy: StrategyKSUID}

// Generator produces prefixed identifiers for conversations, runs and goals.
type Generator struct {
	mu       sync.RWMutex
	strategy Strategy
}

// SetStrategy configures the generation strategy for the default generator.
func SetStrategy(strategy Strategy) {
	defaultGenerator.mu.Lock()
	defaultGenerator.strategy = strategy
	defaultGenerator.mu.Unlock()
}

// NewConversationID generates a conversation identifier with a stable prefix.
func NewConversationID() string {
	return defaultGenerator.newIdentifier("conv")
}

// NewRunID generates an identifier for one async dispatch run.
func NewRunID() string {
	return defaultGenerator.newIdentifier("run")
}

// NewGoalID generates a goal identifier.
func NewGoalID() string {
	return defaultGenerator.newIdentifier("goal")
}

func (g *Generator) newIdentifier(prefix string) string {
	g.mu.RLock()
	strategy := g.strategy
	g.mu.RUnlock()

	switch strategy {
	case StrategyUUIDv7:
		v7, err := uuid.NewV7()
		if err != nil {
			// NewV7 only fails when the entropy source is broken; fall back to v4.
			return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
		}
		return fmt.Sprintf("%s-%s", prefix, v7.String())
	default:
		return fmt.Sprintf("%s-%s", prefix, ksuid.New().String())
	}
}
