// Command villageseed provisions the demo village: the schema, a 3×2 grid of
// rooms, six villagers with personas, and the world-state row. All writes are
// idempotent upserts, so re-running against a live database is safe.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hearthside/cozyvillage/internal/config"
	"github.com/hearthside/cozyvillage/internal/store"
	"github.com/hearthside/cozyvillage/internal/village"
)

// agentNamespace makes seeded agent IDs deterministic: the same name always
// hashes to the same UUID, which is what keeps re-seeding idempotent.
var agentNamespace = uuid.MustParse("6b1d8f44-9c0a-4f3e-8d2a-5b7e9c1f0a3d")

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	rules := flag.String("rules", "Be kind. Keep it cozy. One small thing at a time.", "world rules blob shown in the UI")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "villageseed: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		slog.Error("failed to create database pool", "err", err)
		return 1
	}
	defer pool.Close()

	st := store.NewPostgres(pool, nil)
	if err := st.Migrate(ctx); err != nil {
		slog.Error("failed to migrate schema", "err", err)
		return 1
	}

	for _, r := range demoRooms() {
		if err := st.UpsertRoom(ctx, r); err != nil {
			slog.Error("failed to upsert room", "room", r.ID, "err", err)
			return 1
		}
	}
	for _, a := range demoAgents() {
		if err := st.UpsertAgent(ctx, a); err != nil {
			slog.Error("failed to upsert agent", "agent", a.Name, "err", err)
			return 1
		}
	}
	if err := st.SetRules(ctx, *rules); err != nil {
		slog.Error("failed to set world rules", "err", err)
		return 1
	}

	slog.Info("village seeded", "rooms", len(demoRooms()), "agents", len(demoAgents()))
	return 0
}

func demoRooms() []village.Room {
	return []village.Room{
		{ID: "room-1", Name: "Kettle Nook", X: 0, Y: 0, Theme: "tea corner"},
		{ID: "room-2", Name: "Herb Sill", X: 1, Y: 0, Theme: "window garden"},
		{ID: "room-3", Name: "Frame Hall", X: 2, Y: 0, Theme: "picture gallery"},
		{ID: "room-4", Name: "Hum Parlour", X: 0, Y: 1, Theme: "music room"},
		{ID: "room-5", Name: "Note Desk", X: 1, Y: 1, Theme: "tiny study"},
		{ID: "room-6", Name: "Lantern Loft", X: 2, Y: 1, Theme: "soft light"},
	}
}

func demoAgents() []village.Agent {
	mk := func(name, provider, room string, p *village.Persona) village.Agent {
		id := uuid.NewSHA1(agentNamespace, []byte("agent:"+name)).String()
		return village.Agent{
			ID:       id,
			Name:     name,
			Provider: provider,
			RoomID:   &room,
			Active:   true,
			Persona:  p,
		}
	}
	return []village.Agent{
		mk("Alex", "openai", "room-1", &village.Persona{
			Traits:             []string{"tidy", "early riser"},
			CommunicationStyle: "short and warm",
			Interests:          []string{"tea", "crossword puzzles"},
			Quirks:             []string{"aligns mugs by handle"},
		}),
		mk("Jordan", "openai", "room-2", &village.Persona{
			Traits:    []string{"daydreamer"},
			Interests: []string{"houseplants", "rain sounds"},
			Quirks:    []string{"talks to the herbs"},
		}),
		mk("Sam", "anthropic", "room-3", &village.Persona{
			Traits:             []string{"meticulous", "quietly proud"},
			CommunicationStyle: "precise",
			Interests:          []string{"framing", "old photographs"},
		}),
		mk("Casey", "anthropic", "room-4", &village.Persona{
			Traits:         []string{"cheerful"},
			Interests:      []string{"humming", "vinyl records"},
			SpeechPatterns: []string{"trails off mid-sentence"},
		}),
		mk("Riley", "ollama", "room-5", &village.Persona{
			Traits:    []string{"curious", "list maker"},
			Interests: []string{"stationery", "tiny notes"},
			Quirks:    []string{"dog-ears every notebook"},
		}),
		mk("Morgan", "ollama", "room-6", &village.Persona{
			Traits:             []string{"calm"},
			CommunicationStyle: "slow and soothing",
			Interests:          []string{"lanterns", "dusk"},
		}),
	}
}
