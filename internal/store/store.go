// Package store is the relational gateway for the Cozy Village simulation.
//
// The tick processor and the HTTP state endpoint read and write exclusively
// through the [Store] interface; [Postgres] is the production implementation.
package store

import (
	"context"

	"github.com/hearthside/cozyvillage/internal/village"
)

// Store provides the reads and writes the tick processor and the state
// endpoint need. Implementations must be safe for concurrent use.
type Store interface {
	// ListActiveAgents returns all agents with the active flag set,
	// regardless of room placement, ordered by name.
	ListActiveAgents(ctx context.Context) ([]village.Agent, error)

	// ListRooms returns the full room table ordered by (y, x).
	ListRooms(ctx context.Context) ([]village.Room, error)

	// RecentMessages returns up to limit messages, newest first.
	RecentMessages(ctx context.Context, limit int) ([]village.Message, error)

	// InsertMessage appends one message row. The store assigns ID and TS
	// and writes them back into msg.
	InsertMessage(ctx context.Context, msg *village.Message) error

	// UpdateAgentRoom moves an agent to roomID.
	UpdateAgentRoom(ctx context.Context, agentID, roomID string) error

	// WorldState reads the singleton world-state row.
	WorldState(ctx context.Context) (village.WorldState, error)

	// AdvanceTick increments the world tick counter by one and returns the
	// new value.
	AdvanceTick(ctx context.Context) (int64, error)
}

// Notifier receives change events after successful writes. The realtime hub
// implements it; a nil notifier disables publication.
type Notifier interface {
	// Publish announces that row in table was affected by event
	// ("INSERT" or "UPDATE"). Implementations must not block.
	Publish(table, event string, row any)
}
