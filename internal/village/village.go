// Package village defines the domain types of the Cozy Village simulation:
// agents, rooms, the append-only message log, and the singleton world state.
//
// The types mirror the relational schema consumed by the browser front end;
// the tick processor in internal/tick operates purely on these values and
// never touches SQL directly.
package village

import "time"

// Agent is a simulated villager. Agents are created and retired outside this
// service; the tick processor only ever updates their room placement.
type Agent struct {
	// ID is the agent's stable identifier (a UUID string).
	ID string `json:"id"`

	// Name is the display name shown in the activity log.
	Name string `json:"name"`

	// Provider is the LLM provider label used to generate this agent's
	// speech (e.g., "openai", "anthropic"). May be empty.
	Provider string `json:"provider"`

	// Model optionally overrides the provider's configured model.
	Model string `json:"model,omitempty"`

	// RoomID is the agent's current room, or nil when the agent is
	// unplaced. Unplaced agents never move and never speak.
	RoomID *string `json:"room_id"`

	// Active marks whether the agent participates in ticks.
	Active bool `json:"is_active"`

	// Mood and Energy are optional UI-facing scalars; the tick processor
	// never writes them.
	Mood   *float64 `json:"mood,omitempty"`
	Energy *float64 `json:"energy,omitempty"`

	// Persona optionally flavours generated speech. Nil means no persona.
	Persona *Persona `json:"persona,omitempty"`
}

// Placed reports whether the agent currently occupies a room.
func (a *Agent) Placed() bool { return a.RoomID != nil && *a.RoomID != "" }

// Room is a cell of the apartment-block grid. Rooms are read-only from the
// tick processor's perspective.
type Room struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Theme string `json:"theme,omitempty"`
}

// DisplayName returns the room's name, falling back to its ID so movement
// announcements always have something to show.
func (r Room) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// Message is one line of the activity feed. Rows are append-only: the system
// never updates or deletes them. RoomID records where the author was at the
// moment of insert.
type Message struct {
	ID      int64     `json:"id"`
	TS      time.Time `json:"ts"`
	AgentID string    `json:"from_agent"`
	RoomID  *string   `json:"room_id"`
	Content string    `json:"content"`
}

// WorldStateID is the fixed primary key of the world_state singleton row.
const WorldStateID = 1

// WorldState is the singleton simulation state: a monotonic tick counter and
// an informational rules blob surfaced to the UI.
type WorldState struct {
	ID    int    `json:"id"`
	Tick  int64  `json:"tick"`
	Rules string `json:"rules,omitempty"`
}
