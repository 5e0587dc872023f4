package tick

// DefaultFallbackLines are the canned action descriptions used when no LLM
// is configured for an agent or every completion attempt fails. Each is a
// third-person verb phrase so that prefixing the agent's name forms a full
// activity line. The exact wording is flavour, not contract.
var DefaultFallbackLines = []string{
	"puts the kettle on ☕",
	"waters the window herbs 🌿",
	"straightens the picture frames 🖼️",
	"hums a soft tune 🎵",
	"jots down a tiny note 📒",
	"basks in the lantern's kind glow ✨",
}

// fallbackLine draws one canned line uniformly at random.
func (p *Processor) fallbackLine() string {
	lines := p.cfg.FallbackLines
	return lines[p.rng.Intn(len(lines))]
}
