package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hearthside/cozyvillage/internal/village"
)

// Schema is the SQL DDL for the village tables. Execute it via
// [Postgres.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS rooms (
    id      TEXT PRIMARY KEY,
    name    TEXT NOT NULL DEFAULT '',
    x       INT  NOT NULL DEFAULT 0,
    y       INT  NOT NULL DEFAULT 0,
    theme   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS agents (
    id        TEXT PRIMARY KEY,
    name      TEXT NOT NULL,
    provider  TEXT NOT NULL DEFAULT '',
    model     TEXT NOT NULL DEFAULT '',
    room_id   TEXT REFERENCES rooms(id),
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    mood      DOUBLE PRECISION,
    energy    DOUBLE PRECISION,
    persona   JSONB
);
CREATE INDEX IF NOT EXISTS idx_agents_active ON agents(is_active);

CREATE TABLE IF NOT EXISTS messages (
    id         BIGSERIAL PRIMARY KEY,
    ts         TIMESTAMPTZ NOT NULL DEFAULT now(),
    from_agent TEXT NOT NULL REFERENCES agents(id),
    room_id    TEXT REFERENCES rooms(id),
    content    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts DESC);

CREATE TABLE IF NOT EXISTS world_state (
    id    INT PRIMARY KEY,
    tick  BIGINT NOT NULL DEFAULT 0,
    rules TEXT NOT NULL DEFAULT ''
);
INSERT INTO world_state (id, tick) VALUES (1, 0) ON CONFLICT (id) DO NOTHING;
`

// DB is the database interface used by [Postgres]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres is a [Store] backed by a PostgreSQL database. Personas are
// serialised as JSONB. After every successful write it publishes a change
// event to the configured [Notifier].
type Postgres struct {
	db     DB
	notify Notifier
}

// Compile-time interface check.
var _ Store = (*Postgres)(nil)

// NewPostgres creates a [Postgres] store on the given connection or pool.
// notify may be nil to disable change events. The caller is responsible for
// calling [Postgres.Migrate] before issuing queries against a fresh database.
func NewPostgres(db DB, notify Notifier) *Postgres {
	return &Postgres{db: db, notify: notify}
}

// Migrate executes the [Schema] DDL, creating tables and indexes if they do
// not already exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// ListActiveAgents implements [Store].
func (s *Postgres) ListActiveAgents(ctx context.Context) ([]village.Agent, error) {
	const query = `
		SELECT id, name, provider, model, room_id, is_active, mood, energy, persona
		FROM agents
		WHERE is_active
		ORDER BY name`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	defer rows.Close()

	var agents []village.Agent
	for rows.Next() {
		var (
			a          village.Agent
			personaRaw []byte
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Provider, &a.Model, &a.RoomID,
			&a.Active, &a.Mood, &a.Energy, &personaRaw); err != nil {
			return nil, fmt.Errorf("store: list agents scan: %w", err)
		}
		// A malformed persona blob degrades to no persona rather than
		// failing the listing.
		p, err := village.DecodePersona(personaRaw)
		if err != nil {
			slog.Warn("ignoring malformed persona", "agent", a.ID, "error", err)
		}
		a.Persona = p
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	return agents, nil
}

// ListRooms implements [Store].
func (s *Postgres) ListRooms(ctx context.Context) ([]village.Room, error) {
	const query = `SELECT id, name, x, y, theme FROM rooms ORDER BY y, x`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []village.Room
	for rows.Next() {
		var r village.Room
		if err := rows.Scan(&r.ID, &r.Name, &r.X, &r.Y, &r.Theme); err != nil {
			return nil, fmt.Errorf("store: list rooms scan: %w", err)
		}
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list rooms: %w", err)
	}
	return rooms, nil
}

// RecentMessages implements [Store].
func (s *Postgres) RecentMessages(ctx context.Context, limit int) ([]village.Message, error) {
	const query = `
		SELECT id, ts, from_agent, room_id, content
		FROM messages
		ORDER BY ts DESC, id DESC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []village.Message
	for rows.Next() {
		var m village.Message
		if err := rows.Scan(&m.ID, &m.TS, &m.AgentID, &m.RoomID, &m.Content); err != nil {
			return nil, fmt.Errorf("store: recent messages scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent messages: %w", err)
	}
	return msgs, nil
}

// InsertMessage implements [Store].
func (s *Postgres) InsertMessage(ctx context.Context, msg *village.Message) error {
	const query = `
		INSERT INTO messages (from_agent, room_id, content)
		VALUES ($1, $2, $3)
		RETURNING id, ts`

	err := s.db.QueryRow(ctx, query, msg.AgentID, msg.RoomID, msg.Content).
		Scan(&msg.ID, &msg.TS)
	if err != nil {
		return fmt.Errorf("store: insert message: %w", err)
	}
	s.publish("messages", "INSERT", msg)
	return nil
}

// UpdateAgentRoom implements [Store].
func (s *Postgres) UpdateAgentRoom(ctx context.Context, agentID, roomID string) error {
	const query = `UPDATE agents SET room_id = $2 WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, agentID, roomID)
	if err != nil {
		return fmt.Errorf("store: update agent room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: update agent room: agent %q not found", agentID)
	}
	s.publish("agents", "UPDATE", map[string]string{"id": agentID, "room_id": roomID})
	return nil
}

// WorldState implements [Store].
func (s *Postgres) WorldState(ctx context.Context) (village.WorldState, error) {
	const query = `SELECT id, tick, rules FROM world_state WHERE id = $1`

	var ws village.WorldState
	err := s.db.QueryRow(ctx, query, village.WorldStateID).
		Scan(&ws.ID, &ws.Tick, &ws.Rules)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return village.WorldState{ID: village.WorldStateID}, nil
		}
		return village.WorldState{}, fmt.Errorf("store: world state: %w", err)
	}
	return ws, nil
}

// AdvanceTick implements [Store].
func (s *Postgres) AdvanceTick(ctx context.Context) (int64, error) {
	const query = `
		UPDATE world_state SET tick = tick + 1
		WHERE id = $1
		RETURNING tick`

	var tick int64
	if err := s.db.QueryRow(ctx, query, village.WorldStateID).Scan(&tick); err != nil {
		return 0, fmt.Errorf("store: advance tick: %w", err)
	}
	s.publish("world_state", "UPDATE", village.WorldState{ID: village.WorldStateID, Tick: tick})
	return tick, nil
}

// UpsertRoom creates or replaces a room row. Used by the seeding tool; not
// part of the [Store] interface because the tick processor never writes rooms.
func (s *Postgres) UpsertRoom(ctx context.Context, r village.Room) error {
	const query = `
		INSERT INTO rooms (id, name, x, y, theme)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, x = EXCLUDED.x, y = EXCLUDED.y,
			theme = EXCLUDED.theme`

	if _, err := s.db.Exec(ctx, query, r.ID, r.Name, r.X, r.Y, r.Theme); err != nil {
		return fmt.Errorf("store: upsert room %q: %w", r.ID, err)
	}
	return nil
}

// UpsertAgent creates or replaces an agent row. Used by the seeding tool.
func (s *Postgres) UpsertAgent(ctx context.Context, a village.Agent) error {
	personaJSON, err := json.Marshal(a.Persona)
	if err != nil {
		return fmt.Errorf("store: marshal persona: %w", err)
	}

	const query = `
		INSERT INTO agents (id, name, provider, model, room_id, is_active, mood, energy, persona)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, provider = EXCLUDED.provider,
			model = EXCLUDED.model, room_id = EXCLUDED.room_id,
			is_active = EXCLUDED.is_active, mood = EXCLUDED.mood,
			energy = EXCLUDED.energy, persona = EXCLUDED.persona`

	if _, err := s.db.Exec(ctx, query, a.ID, a.Name, a.Provider, a.Model,
		a.RoomID, a.Active, a.Mood, a.Energy, personaJSON); err != nil {
		return fmt.Errorf("store: upsert agent %q: %w", a.ID, err)
	}
	return nil
}

// SetRules replaces the informational rules blob on the world-state row.
func (s *Postgres) SetRules(ctx context.Context, rules string) error {
	const query = `UPDATE world_state SET rules = $2 WHERE id = $1`
	if _, err := s.db.Exec(ctx, query, village.WorldStateID, rules); err != nil {
		return fmt.Errorf("store: set rules: %w", err)
	}
	return nil
}

// publish forwards a change event to the notifier when one is configured.
func (s *Postgres) publish(table, event string, row any) {
	if s.notify != nil {
		s.notify.Publish(table, event, row)
	}
}
