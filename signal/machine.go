package signal

import "fmt"

// StreamState is the per-(instrument, timeframe) position state that gates
// new signal emission.
type StreamState int

const (
	// Idle: no position, crossovers may arm.
	Idle StreamState = iota
	// Armed: a crossover was emitted, awaiting fill confirmation.
	Armed
	// InPosition: fill confirmed; no new entries until exit.
	InPosition
	// Cooldown: just exited; suppress re-cross churn for N bars.
	Cooldown
)

func (s StreamState) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Armed:
		return "ARMED"
	case InPosition:
		return "IN_POSITION"
	case Cooldown:
		return "COOLDOWN"
	}
	return fmt.Sprintf("StreamState(%d)", int(s))
}

// machine tracks one stream's state plus its cooldown countdown.
type machine struct {
	state        StreamState
	cooldownLeft int
	cooldownBars int
}

func newMachine(cooldownBars int) *machine {
	if cooldownBars < 0 {
		cooldownBars = 0
	}
	return &machine{state: Idle, cooldownBars: cooldownBars}
}

// onBar advances the cooldown counter on every new completed bar.
func (m *machine) onBar() {
	if m.state != Cooldown {
		return
	}
	m.cooldownLeft--
	if m.cooldownLeft <= 0 {
		m.state = Idle
	}
}

// canArm reports whether a new crossover may emit a signal.
func (m *machine) canArm() bool { return m.state == Idle }

func (m *machine) arm() { m.state = Armed }

// onFill moves Armed to InPosition.
func (m *machine) onFill() {
	if m.state == Armed {
		m.state = InPosition
	}
}

// onAbort returns an Armed stream to Idle (reject or expiry).
func (m *machine) onAbort() {
	if m.state == Armed {
		m.state = Idle
	}
}

// onExit starts the cooldown after a position closes. Exits are processed
// before the same bar's evaluation, whose onBar call must not consume the
// cooldown: the exit bar itself does not count.
func (m *machine) onExit() {
	if m.state != InPosition {
		return
	}
	if m.cooldownBars == 0 {
		m.state = Idle
		return
	}
	m.state = Cooldown
	m.cooldownLeft = m.cooldownBars + 1
}
