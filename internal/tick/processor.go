// Package tick implements the tick processor: one full pass over all active,
// room-placed agents that lets each of them either relocate or produce one
// line of speech, persisting the results through the store gateway.
//
// The pass is strictly sequential and partial-failure tolerant: a single
// agent's store or LLM failure is logged and absorbed, never aborting the
// rest of the pass. Only an unreadable agent list fails the invocation as a
// whole.
package tick

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hearthside/cozyvillage/internal/observe"
	"github.com/hearthside/cozyvillage/internal/store"
	"github.com/hearthside/cozyvillage/internal/village"
	"github.com/hearthside/cozyvillage/pkg/provider/llm"
)

// interestSteerChance is the probability that a speech prompt nudges the
// model toward the agent's stated interests.
const interestSteerChance = 0.3

// Retry backoff band for rate-limited completion calls.
const (
	retryDelayMin = 500 * time.Millisecond
	retryDelayMax = 800 * time.Millisecond
)

// Providers resolves an agent's provider label and optional model override
// to an LLM backend. *llm.Directory satisfies this interface.
type Providers interface {
	For(label, model string) (llm.Provider, error)
}

// Config holds the simulation tuning for a processor. The zero value is
// usable: normalize fills every field with its default.
type Config struct {
	// MoveChance is the per-agent probability of relocating each tick.
	MoveChance float64

	// HistoryWindow is how many recent messages to load globally.
	HistoryWindow int

	// HistoryPerAgent caps the history lines rendered per prompt.
	HistoryPerAgent int

	// TemperatureMin and TemperatureMax bound the per-call sampling
	// temperature.
	TemperatureMin float64
	TemperatureMax float64

	// MaxTokens caps speech completion length.
	MaxTokens int

	// FallbackLines overrides [DefaultFallbackLines] when non-empty.
	FallbackLines []string
}

func (c *Config) normalize() {
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 200
	}
	if c.HistoryPerAgent <= 0 {
		c.HistoryPerAgent = 10
	}
	if c.TemperatureMin == 0 && c.TemperatureMax == 0 {
		c.TemperatureMin, c.TemperatureMax = 0.8, 1.2
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 60
	}
	if len(c.FallbackLines) == 0 {
		c.FallbackLines = DefaultFallbackLines
	}
}

// Summary is the result of one tick pass, returned to the invoking scheduler.
type Summary struct {
	// Inserted counts message rows actually created (movement + speech).
	Inserted int `json:"inserted"`

	// Quiet counts room-placed agents that contributed no row this pass
	// (skipped or failed).
	Quiet int `json:"quiet"`
}

// Processor performs tick passes. All collaborators are injected; a
// Processor holds no global state and is safe to share across invocations,
// though the hosting scheduler is expected to serialise them.
type Processor struct {
	store     store.Store
	providers Providers
	cfg       Config
	rng       *rand.Rand
	sleep     func(ctx context.Context, d time.Duration)
	metrics   *observe.Metrics
}

// Option configures a Processor.
type Option func(*Processor)

// WithRand replaces the pseudo-random source. Tests use a seeded source to
// force movement decisions.
func WithRand(rng *rand.Rand) Option {
	return func(p *Processor) { p.rng = rng }
}

// WithSleep replaces the retry-backoff sleep. Tests use a no-op.
func WithSleep(sleep func(ctx context.Context, d time.Duration)) Option {
	return func(p *Processor) { p.sleep = sleep }
}

// WithMetrics attaches metric instruments. Nil metrics are skipped.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// New creates a Processor. providers may be nil, in which case every agent
// speaks from the fallback line set.
func New(st store.Store, providers Providers, cfg Config, opts ...Option) *Processor {
	cfg.normalize()
	p := &Processor{
		store:     st,
		providers: providers,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:     sleepContext,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run performs one tick pass and returns its summary.
//
// The returned error is non-nil only when the initial agent listing fails;
// every other failure is absorbed into the summary. On completion the world
// tick counter is advanced best-effort.
func (p *Processor) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	log := observe.Logger(ctx)

	agents, err := p.store.ListActiveAgents(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("tick: list agents: %w", err)
	}

	// Rooms and history degrade gracefully: an empty map just means less
	// prompt context and no movement targets.
	rooms, err := p.store.ListRooms(ctx)
	if err != nil {
		log.Warn("room listing failed; continuing without rooms", "error", err)
		rooms = nil
	}
	roomsByID := make(map[string]village.Room, len(rooms))
	for _, r := range rooms {
		roomsByID[r.ID] = r
	}

	history := p.loadHistory(ctx, log)

	var summary Summary
	moved := make(map[string]bool)
	placed := 0

	// Phase 1 — movement. Successful relocations are merged into the
	// in-memory snapshot so phase 2 sees them without a second read.
	for i := range agents {
		a := &agents[i]
		if !a.Placed() {
			continue
		}
		placed++
		if p.rng.Float64() >= p.cfg.MoveChance {
			continue
		}
		dest, ok := p.pickDestination(*a.RoomID, rooms)
		if !ok {
			continue
		}
		if err := p.store.UpdateAgentRoom(ctx, a.ID, dest.ID); err != nil {
			log.Warn("movement update failed; agent stays put", "agent", a.ID, "error", err)
			p.countStoreError(ctx)
			continue
		}
		roomID := dest.ID
		a.RoomID = &roomID
		moved[a.ID] = true
		p.countMove(ctx)

		msg := &village.Message{
			AgentID: a.ID,
			RoomID:  a.RoomID,
			Content: fmt.Sprintf("%s moves to %s", a.Name, dest.DisplayName()),
		}
		if err := p.store.InsertMessage(ctx, msg); err != nil {
			log.Warn("movement announcement insert failed", "agent", a.ID, "error", err)
			p.countStoreError(ctx)
			continue
		}
		summary.Inserted++
		p.countInsert(ctx, "movement")
	}

	// Phase 2 — speech for everyone who stayed put.
	for i := range agents {
		a := &agents[i]
		if !a.Placed() || moved[a.ID] {
			continue
		}
		content := p.speechFor(ctx, a, roomsByID[*a.RoomID], history[a.ID])
		msg := &village.Message{
			AgentID: a.ID,
			RoomID:  a.RoomID,
			Content: content,
		}
		if err := p.store.InsertMessage(ctx, msg); err != nil {
			log.Warn("speech insert failed; agent stays quiet", "agent", a.ID, "error", err)
			p.countStoreError(ctx)
			continue
		}
		summary.Inserted++
		p.countInsert(ctx, "speech")
	}

	summary.Quiet = placed - summary.Inserted

	// Per-agent failures never block the counter; a failed advance only
	// costs one tick of the informational counter.
	if _, err := p.store.AdvanceTick(ctx); err != nil {
		log.Warn("tick counter advance failed", "error", err)
	}

	if p.metrics != nil {
		p.metrics.TickDuration.Record(ctx, time.Since(start).Seconds())
	}
	log.Info("tick pass complete",
		"agents", len(agents),
		"placed", placed,
		"inserted", summary.Inserted,
		"quiet", summary.Quiet,
		"duration", time.Since(start),
	)
	return summary, nil
}

// loadHistory fetches the recent-message window and partitions it per agent,
// newest first, capped at HistoryPerAgent. A read failure degrades to empty
// history.
func (p *Processor) loadHistory(ctx context.Context, log *slog.Logger) map[string][]village.Message {
	msgs, err := p.store.RecentMessages(ctx, p.cfg.HistoryWindow)
	if err != nil {
		log.Warn("history read failed; continuing without history", "error", err)
		return nil
	}
	byAgent := make(map[string][]village.Message)
	for _, m := range msgs {
		if len(byAgent[m.AgentID]) >= p.cfg.HistoryPerAgent {
			continue
		}
		byAgent[m.AgentID] = append(byAgent[m.AgentID], m)
	}
	return byAgent
}

// pickDestination chooses uniformly among all rooms except current. The
// second return is false when no alternative room exists.
func (p *Processor) pickDestination(current string, rooms []village.Room) (village.Room, bool) {
	candidates := make([]village.Room, 0, len(rooms))
	for _, r := range rooms {
		if r.ID != current {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return village.Room{}, false
	}
	return candidates[p.rng.Intn(len(candidates))], true
}

// speechFor produces one line of speech content for the agent. It always
// returns something: model output when available, a canned line otherwise.
func (p *Processor) speechFor(ctx context.Context, a *village.Agent, room village.Room, history []village.Message) string {
	log := observe.Logger(ctx)

	prov := p.providerFor(a)
	if prov == nil {
		p.countFallback(ctx)
		return a.Name + " " + p.fallbackLine()
	}

	steer := a.Persona != nil && len(a.Persona.Interests) > 0 &&
		p.rng.Float64() < interestSteerChance
	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: buildPrompt(a, room, history, p.cfg.HistoryPerAgent, steer)},
		},
		Temperature: p.temperature(),
		MaxTokens:   p.cfg.MaxTokens,
	}

	content, err := p.complete(ctx, prov, a.Provider, req)
	if err == nil && content != "" {
		return content
	}

	// Rate limits get exactly one delayed retry; anything else falls back
	// immediately.
	if llm.IsRateLimit(err) {
		p.countProviderError(ctx, a.Provider, "rate_limit")
		p.sleep(ctx, p.retryDelay())
		content, err = p.complete(ctx, prov, a.Provider, req)
		if err == nil && content != "" {
			return content
		}
	}
	if err != nil {
		p.countProviderError(ctx, a.Provider, "error")
		log.Warn("completion failed; using fallback line", "agent", a.ID, "provider", a.Provider, "error", err)
	}
	p.countFallback(ctx)
	return a.Name + " " + p.fallbackLine()
}

// providerFor resolves the agent's provider label, returning nil when no
// backend is available so the caller degrades to fallback lines.
func (p *Processor) providerFor(a *village.Agent) llm.Provider {
	if p.providers == nil || a.Provider == "" {
		return nil
	}
	prov, err := p.providers.For(a.Provider, a.Model)
	if err != nil {
		slog.Debug("no LLM backend for agent", "agent", a.ID, "provider", a.Provider, "error", err)
		return nil
	}
	return prov
}

// complete issues one completion call, recording latency.
func (p *Processor) complete(ctx context.Context, prov llm.Provider, label string, req llm.CompletionRequest) (string, error) {
	start := time.Now()
	resp, err := prov.Complete(ctx, req)
	if p.metrics != nil {
		p.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("provider", label)))
	}
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// temperature draws a sampling temperature uniformly from the configured band.
func (p *Processor) temperature() float64 {
	return p.cfg.TemperatureMin + p.rng.Float64()*(p.cfg.TemperatureMax-p.cfg.TemperatureMin)
}

// retryDelay draws a jittered backoff from the retry band.
func (p *Processor) retryDelay() time.Duration {
	spread := retryDelayMax - retryDelayMin
	return retryDelayMin + time.Duration(p.rng.Int63n(int64(spread)))
}

// sleepContext sleeps for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (p *Processor) countInsert(ctx context.Context, kind string) {
	if p.metrics != nil {
		p.metrics.MessagesInserted.Add(ctx, 1,
			metric.WithAttributes(attribute.String("kind", kind)))
	}
}

func (p *Processor) countMove(ctx context.Context) {
	if p.metrics != nil {
		p.metrics.AgentMoves.Add(ctx, 1)
	}
}

func (p *Processor) countFallback(ctx context.Context) {
	if p.metrics != nil {
		p.metrics.FallbackLines.Add(ctx, 1)
	}
}

func (p *Processor) countStoreError(ctx context.Context) {
	if p.metrics != nil {
		p.metrics.StoreErrors.Add(ctx, 1)
	}
}

func (p *Processor) countProviderError(ctx context.Context, provider, kind string) {
	if p.metrics != nil {
		p.metrics.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		))
	}
}
