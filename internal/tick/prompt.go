package tick

import (
	"fmt"
	"strings"

	"github.com/hearthside/cozyvillage/internal/village"
)

// systemPrompt frames every speech completion. The reply contract (one short
// present-tense third-person line) is what keeps the activity feed readable.
const systemPrompt = `You narrate a cozy apartment-block simulation. Reply with exactly one short line of at most about 80 characters describing what the villager does right now, in present tense and third person. Keep it gentle, slice-of-life, and concrete. Never repeat a line from the recent activity list. No quotation marks, no preamble.`

// buildPrompt renders the user prompt for one agent's speech call.
// steerToInterests asks the model to lean toward the agent's stated
// interests; the caller decides this probabilistically per call.
func buildPrompt(a *village.Agent, room village.Room, history []village.Message, historyCap int, steerToInterests bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s is a villager", a.Name)
	if a.Provider != "" {
		fmt.Fprintf(&b, " voiced by %s", a.Provider)
	}
	b.WriteString(".\n")

	fmt.Fprintf(&b, "Current room: %s", room.DisplayName())
	if room.Theme != "" {
		fmt.Fprintf(&b, " (theme: %s)", room.Theme)
	}
	b.WriteString("\n")

	if s := a.Persona.Summary(); s != "" {
		b.WriteString("Persona:\n")
		b.WriteString(s)
		b.WriteString("\n")
	}

	b.WriteString("Recent activity (most recent first):\n")
	if len(history) == 0 {
		b.WriteString("- (nothing yet — the day is just starting)\n")
	} else {
		if len(history) > historyCap {
			history = history[:historyCap]
		}
		for _, m := range history {
			fmt.Fprintf(&b, "- %s\n", m.Content)
		}
	}

	if steerToInterests && a.Persona != nil && len(a.Persona.Interests) > 0 {
		fmt.Fprintf(&b, "Lean toward one of %s's interests: %s.\n",
			a.Name, strings.Join(a.Persona.Interests, ", "))
	}

	fmt.Fprintf(&b, "Write the one line for %s now.", a.Name)
	return b.String()
}
