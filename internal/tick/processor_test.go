package tick

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/hearthside/cozyvillage/internal/village"
	"github.com/hearthside/cozyvillage/pkg/provider/llm"
	llmmock "github.com/hearthside/cozyvillage/pkg/provider/llm/mock"
)

// fakeStore is an in-memory store.Store with per-operation error injection.
type fakeStore struct {
	agents   []village.Agent
	rooms    []village.Room
	recent   []village.Message
	inserted []village.Message
	moves    map[string]string // agent ID → new room ID
	ticks    int

	agentsErr  error
	roomsErr   error
	recentErr  error
	updateErr  error
	advanceErr error

	// insertErrFor fails inserts authored by the given agent.
	insertErrFor map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{moves: make(map[string]string), insertErrFor: make(map[string]error)}
}

func (f *fakeStore) ListActiveAgents(ctx context.Context) ([]village.Agent, error) {
	if f.agentsErr != nil {
		return nil, f.agentsErr
	}
	out := make([]village.Agent, len(f.agents))
	copy(out, f.agents)
	return out, nil
}

func (f *fakeStore) ListRooms(ctx context.Context) ([]village.Room, error) {
	if f.roomsErr != nil {
		return nil, f.roomsErr
	}
	return f.rooms, nil
}

func (f *fakeStore) RecentMessages(ctx context.Context, limit int) ([]village.Message, error) {
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	if len(f.recent) > limit {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, msg *village.Message) error {
	if err := f.insertErrFor[msg.AgentID]; err != nil {
		return err
	}
	msg.ID = int64(len(f.inserted) + 1)
	msg.TS = time.Now()
	f.inserted = append(f.inserted, *msg)
	return nil
}

func (f *fakeStore) UpdateAgentRoom(ctx context.Context, agentID, roomID string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.moves[agentID] = roomID
	return nil
}

func (f *fakeStore) WorldState(ctx context.Context) (village.WorldState, error) {
	return village.WorldState{ID: village.WorldStateID, Tick: int64(f.ticks)}, nil
}

func (f *fakeStore) AdvanceTick(ctx context.Context) (int64, error) {
	if f.advanceErr != nil {
		return 0, f.advanceErr
	}
	f.ticks++
	return int64(f.ticks), nil
}

// fakeProviders maps provider labels to a shared mock backend.
type fakeProviders struct {
	byLabel map[string]llm.Provider
}

func (f *fakeProviders) For(label, model string) (llm.Provider, error) {
	p, ok := f.byLabel[label]
	if !ok {
		return nil, fmt.Errorf("no backend for %q", label)
	}
	return p, nil
}

func agentIn(id, name, provider, room string) village.Agent {
	return village.Agent{ID: id, Name: name, Provider: provider, RoomID: &room, Active: true}
}

func newTestProcessor(st *fakeStore, providers Providers, cfg Config, seed int64) *Processor {
	return New(st, providers, cfg,
		WithRand(rand.New(rand.NewSource(seed))),
		WithSleep(func(ctx context.Context, d time.Duration) {}),
	)
}

func TestRun_FallbackWhenNoProviders(t *testing.T) {
	st := newFakeStore()
	st.agents = []village.Agent{
		agentIn("a1", "Alex", "openai", "room-1"),
		agentIn("a2", "Jordan", "", "room-1"),
		agentIn("a3", "Sam", "anthropic", "room-2"),
	}
	st.rooms = []village.Room{{ID: "room-1", Name: "Kettle Nook"}, {ID: "room-2", Name: "Herb Sill"}}

	p := newTestProcessor(st, nil, Config{MoveChance: 0}, 1)
	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.Inserted != 3 || sum.Quiet != 0 {
		t.Errorf("summary = %+v, want inserted 3 quiet 0", sum)
	}
	if len(st.inserted) != 3 {
		t.Fatalf("inserted %d rows, want 3", len(st.inserted))
	}
	for i, want := range []struct{ id, name string }{{"a1", "Alex"}, {"a2", "Jordan"}, {"a3", "Sam"}} {
		msg := st.inserted[i]
		if msg.AgentID != want.id {
			t.Errorf("row %d author = %q, want %q", i, msg.AgentID, want.id)
		}
		if !strings.HasPrefix(msg.Content, want.name+" ") {
			t.Errorf("row %d content %q does not start with %q", i, msg.Content, want.name+" ")
		}
		line := strings.TrimPrefix(msg.Content, want.name+" ")
		if !containsLine(DefaultFallbackLines, line) {
			t.Errorf("row %d line %q not in fallback set", i, line)
		}
	}
	if st.ticks != 1 {
		t.Errorf("tick counter = %d, want 1", st.ticks)
	}
}

func containsLine(lines []string, s string) bool {
	for _, l := range lines {
		if l == s {
			return true
		}
	}
	return false
}

func TestRun_UnplacedAgentsAreIgnored(t *testing.T) {
	st := newFakeStore()
	empty := ""
	st.agents = []village.Agent{
		{ID: "a1", Name: "Alex", Active: true, RoomID: nil},
		{ID: "a2", Name: "Jordan", Active: true, RoomID: &empty},
	}
	st.rooms = []village.Room{{ID: "room-1"}, {ID: "room-2"}}

	p := newTestProcessor(st, nil, Config{MoveChance: 1}, 1)
	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.Inserted != 0 || sum.Quiet != 0 {
		t.Errorf("summary = %+v, want all zero", sum)
	}
	if len(st.inserted) != 0 || len(st.moves) != 0 {
		t.Errorf("unplaced agents produced rows: inserted=%d moves=%d", len(st.inserted), len(st.moves))
	}
}

func TestRun_MovementAnnouncedFromNewRoom(t *testing.T) {
	st := newFakeStore()
	st.agents = []village.Agent{agentIn("a1", "Riley", "", "room-1")}
	st.rooms = []village.Room{
		{ID: "room-1", Name: "Note Desk"},
		{ID: "room-2", Name: "Lantern Loft"},
	}

	p := newTestProcessor(st, nil, Config{MoveChance: 1}, 7)
	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.Inserted != 1 || sum.Quiet != 0 {
		t.Errorf("summary = %+v, want inserted 1 quiet 0", sum)
	}
	if st.moves["a1"] != "room-2" {
		t.Errorf("room update = %q, want room-2", st.moves["a1"])
	}
	if len(st.inserted) != 1 {
		t.Fatalf("inserted %d rows, want exactly 1 (movers do not also speak)", len(st.inserted))
	}
	msg := st.inserted[0]
	if msg.Content != "Riley moves to Lantern Loft" {
		t.Errorf("announcement = %q", msg.Content)
	}
	if msg.RoomID == nil || *msg.RoomID != "room-2" {
		t.Errorf("announcement authored from %v, want the destination room", msg.RoomID)
	}
}

func TestRun_SingleRoomMeansNowhereToGo(t *testing.T) {
	st := newFakeStore()
	st.agents = []village.Agent{agentIn("a1", "Riley", "", "room-1")}
	st.rooms = []village.Room{{ID: "room-1", Name: "Note Desk"}}

	p := newTestProcessor(st, nil, Config{MoveChance: 1}, 7)
	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(st.moves) != 0 {
		t.Errorf("agent moved with no alternative room: %v", st.moves)
	}
	// The agent stays put, so it speaks instead.
	if sum.Inserted != 1 || len(st.inserted) != 1 {
		t.Errorf("summary = %+v, inserted rows = %d; want one speech line", sum, len(st.inserted))
	}
	if !strings.HasPrefix(st.inserted[0].Content, "Riley ") {
		t.Errorf("content = %q, want Riley's fallback line", st.inserted[0].Content)
	}
}

func TestRun_MovementUpdateFailureAbsorbed(t *testing.T) {
	st := newFakeStore()
	st.agents = []village.Agent{agentIn("a1", "Riley", "", "room-1")}
	st.rooms = []village.Room{{ID: "room-1"}, {ID: "room-2"}}
	st.updateErr = errors.New("boom")

	p := newTestProcessor(st, nil, Config{MoveChance: 1}, 7)
	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The failed mover stays put and still speaks in phase 2.
	if sum.Inserted != 1 {
		t.Errorf("inserted = %d, want 1 speech row", sum.Inserted)
	}
	if strings.Contains(st.inserted[0].Content, "moves to") {
		t.Errorf("announcement inserted despite failed room update: %q", st.inserted[0].Content)
	}
	if st.ticks != 1 {
		t.Errorf("tick counter = %d, want 1", st.ticks)
	}
}

func TestRun_ProviderSpeechVerbatim(t *testing.T) {
	st := newFakeStore()
	st.agents = []village.Agent{agentIn("a1", "Alex", "openai", "room-1")}
	st.rooms = []village.Room{{ID: "room-1", Name: "Kettle Nook", Theme: "tea corner"}}

	prov := &llmmock.Provider{Responses: []llmmock.Response{
		{Content: "Alex pours a careful cup of oolong."},
	}}
	providers := &fakeProviders{byLabel: map[string]llm.Provider{"openai": prov}}

	p := newTestProcessor(st, providers, Config{MoveChance: 0}, 1)
	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.Inserted != 1 {
		t.Fatalf("inserted = %d, want 1", sum.Inserted)
	}
	if got := st.inserted[0].Content; got != "Alex pours a careful cup of oolong." {
		t.Errorf("content = %q, want model output verbatim", got)
	}
	if prov.CallCount() != 1 {
		t.Errorf("provider called %d times, want 1", prov.CallCount())
	}

	req := prov.Calls[0]
	if req.SystemPrompt == "" {
		t.Error("request carries no system prompt")
	}
	if req.Temperature < 0.8 || req.Temperature > 1.2 {
		t.Errorf("temperature %v outside default band [0.8, 1.2]", req.Temperature)
	}
	if req.MaxTokens != 60 {
		t.Errorf("max tokens = %d, want default 60", req.MaxTokens)
	}
	if len(req.Messages) != 1 || !strings.Contains(req.Messages[0].Content, "Kettle Nook") {
		t.Errorf("prompt does not mention the room: %+v", req.Messages)
	}
}

func TestRun_RateLimitRetriesExactlyOnce(t *testing.T) {
	tests := []struct {
		name        string
		responses   []llmmock.Response
		wantCalls   int
		wantContent string // prefix match when fallback
		fallback    bool
	}{
		{
			name: "retry succeeds",
			responses: []llmmock.Response{
				{Err: &llm.RateLimitError{Provider: "openai", Err: errors.New("429")}},
				{Content: "Alex tries again, gently."},
			},
			wantCalls:   2,
			wantContent: "Alex tries again, gently.",
		},
		{
			name: "retry also limited",
			responses: []llmmock.Response{
				{Err: &llm.RateLimitError{Provider: "openai", Err: errors.New("429")}},
				{Err: &llm.RateLimitError{Provider: "openai", Err: errors.New("429")}},
			},
			wantCalls: 2,
			fallback:  true,
		},
		{
			name:      "other errors never retry",
			responses: []llmmock.Response{{Err: errors.New("connection refused")}},
			wantCalls: 1,
			fallback:  true,
		},
		{
			name:      "empty completion falls back without retry",
			responses: []llmmock.Response{{Content: ""}},
			wantCalls: 1,
			fallback:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newFakeStore()
			st.agents = []village.Agent{agentIn("a1", "Alex", "openai", "room-1")}
			st.rooms = []village.Room{{ID: "room-1"}}

			prov := &llmmock.Provider{Responses: tt.responses}
			providers := &fakeProviders{byLabel: map[string]llm.Provider{"openai": prov}}

			slept := 0
			p := New(st, providers, Config{MoveChance: 0},
				WithRand(rand.New(rand.NewSource(1))),
				WithSleep(func(ctx context.Context, d time.Duration) {
					slept++
					if d < retryDelayMin || d > retryDelayMax {
						t.Errorf("retry delay %v outside [%v, %v]", d, retryDelayMin, retryDelayMax)
					}
				}),
			)

			sum, err := p.Run(context.Background())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if prov.CallCount() != tt.wantCalls {
				t.Errorf("provider called %d times, want %d", prov.CallCount(), tt.wantCalls)
			}
			if wantSleeps := tt.wantCalls - 1; slept != wantSleeps {
				t.Errorf("slept %d times, want %d", slept, wantSleeps)
			}
			if sum.Inserted != 1 {
				t.Fatalf("inserted = %d, want 1 (fallback still speaks)", sum.Inserted)
			}
			got := st.inserted[0].Content
			if tt.fallback {
				if !strings.HasPrefix(got, "Alex ") {
					t.Errorf("fallback content = %q, want name prefix", got)
				}
				if !containsLine(DefaultFallbackLines, strings.TrimPrefix(got, "Alex ")) {
					t.Errorf("fallback content %q not from the canned set", got)
				}
			} else if got != tt.wantContent {
				t.Errorf("content = %q, want %q", got, tt.wantContent)
			}
		})
	}
}

func TestRun_UnknownProviderLabelFallsBack(t *testing.T) {
	st := newFakeStore()
	st.agents = []village.Agent{agentIn("a1", "Sam", "anthropic", "room-1")}
	st.rooms = []village.Room{{ID: "room-1"}}

	providers := &fakeProviders{byLabel: map[string]llm.Provider{"openai": &llmmock.Provider{}}}
	p := newTestProcessor(st, providers, Config{MoveChance: 0}, 1)

	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Inserted != 1 || !strings.HasPrefix(st.inserted[0].Content, "Sam ") {
		t.Errorf("want Sam's fallback line, got %+v / %q", sum, st.inserted[0].Content)
	}
}

func TestRun_AgentListFailureIsFatal(t *testing.T) {
	st := newFakeStore()
	st.agentsErr = errors.New("connection reset")

	p := newTestProcessor(st, nil, Config{}, 1)
	_, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected error from failed agent listing")
	}
	if st.ticks != 0 {
		t.Errorf("tick counter advanced to %d despite fatal failure", st.ticks)
	}
}

func TestRun_RoomAndHistoryFailuresDegrade(t *testing.T) {
	st := newFakeStore()
	st.agents = []village.Agent{agentIn("a1", "Alex", "", "room-1")}
	st.roomsErr = errors.New("rooms unavailable")
	st.recentErr = errors.New("history unavailable")

	p := newTestProcessor(st, nil, Config{MoveChance: 1}, 1)
	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// No rooms means no movement targets; speech still happens.
	if sum.Inserted != 1 || len(st.moves) != 0 {
		t.Errorf("summary = %+v, moves = %v; want one speech row and no moves", sum, st.moves)
	}
}

func TestRun_InsertFailureCountsAsQuiet(t *testing.T) {
	st := newFakeStore()
	st.agents = []village.Agent{
		agentIn("a1", "Alex", "", "room-1"),
		agentIn("a2", "Jordan", "", "room-1"),
		agentIn("a3", "Sam", "", "room-1"),
	}
	st.rooms = []village.Room{{ID: "room-1"}}
	st.insertErrFor["a2"] = errors.New("disk full")

	p := newTestProcessor(st, nil, Config{MoveChance: 0}, 1)
	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.Inserted != 2 || sum.Quiet != 1 {
		t.Errorf("summary = %+v, want inserted 2 quiet 1", sum)
	}
	if st.ticks != 1 {
		t.Errorf("tick counter = %d, want 1 (advance is best-effort but expected here)", st.ticks)
	}
}

func TestRun_AdvanceTickFailureAbsorbed(t *testing.T) {
	st := newFakeStore()
	st.agents = []village.Agent{agentIn("a1", "Alex", "", "room-1")}
	st.rooms = []village.Room{{ID: "room-1"}}
	st.advanceErr = errors.New("deadlock detected")

	p := newTestProcessor(st, nil, Config{MoveChance: 0}, 1)
	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Inserted != 1 {
		t.Errorf("inserted = %d, want 1", sum.Inserted)
	}
}

func TestRun_CustomFallbackLines(t *testing.T) {
	st := newFakeStore()
	st.agents = []village.Agent{agentIn("a1", "Alex", "", "room-1")}
	st.rooms = []village.Room{{ID: "room-1"}}

	p := newTestProcessor(st, nil, Config{MoveChance: 0, FallbackLines: []string{"counts the teaspoons"}}, 1)
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := st.inserted[0].Content; got != "Alex counts the teaspoons" {
		t.Errorf("content = %q, want the custom line", got)
	}
}

func TestPickDestination_NeverPicksCurrentRoom(t *testing.T) {
	p := newTestProcessor(newFakeStore(), nil, Config{}, 42)
	rooms := []village.Room{{ID: "room-1"}, {ID: "room-2"}, {ID: "room-3"}}

	for i := 0; i < 100; i++ {
		dest, ok := p.pickDestination("room-2", rooms)
		if !ok {
			t.Fatal("expected a destination")
		}
		if dest.ID == "room-2" {
			t.Fatal("picked the current room")
		}
	}
}

func TestLoadHistory_CapsPerAgent(t *testing.T) {
	st := newFakeStore()
	for i := 0; i < 30; i++ {
		st.recent = append(st.recent, village.Message{
			ID:      int64(30 - i),
			AgentID: "a1",
			Content: fmt.Sprintf("line %d", 30-i),
		})
	}

	p := newTestProcessor(st, nil, Config{HistoryPerAgent: 5}, 1)
	byAgent := p.loadHistory(context.Background(), slogDiscard())

	if got := len(byAgent["a1"]); got != 5 {
		t.Fatalf("history length = %d, want 5", got)
	}
	// Newest first, taken from the head of the window.
	if byAgent["a1"][0].Content != "line 30" {
		t.Errorf("first history line = %q, want the newest", byAgent["a1"][0].Content)
	}
}
