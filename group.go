package genesys

import "context"

// Group addresses every supply on a channel's bus at once via the
// broadcast (G-prefix) commands, manual section 7.8. Broadcasts produce
// no reply; success means the frame went out and the mandatory settle
// delay elapsed. Values must be within the capabilities and protection
// limits of every connected unit, which only the caller can know.
type Group struct {
	ch *Channel
}

// NewGroup returns the broadcast interface for a channel.
func NewGroup(ch *Channel) *Group {
	return &Group{ch: ch}
}

// Reset brings every supply to the same safe state as RST (GRST).
func (g *Group) Reset(ctx context.Context) error {
	return g.ch.Broadcast(ctx, CmdGroupReset, "")
}

// SetVoltage programs the output voltage on every supply (GPV).
func (g *Group) SetVoltage(ctx context.Context, volts float64) error {
	return g.ch.Broadcast(ctx, CmdGroupVoltage, formatGroupValue(volts))
}

// SetCurrent programs the output current on every supply (GPC).
func (g *Group) SetCurrent(ctx context.Context, amps float64) error {
	return g.ch.Broadcast(ctx, CmdGroupCurrent, formatGroupValue(amps))
}

// SetOutput switches every output on or off (GOUT).
func (g *Group) SetOutput(ctx context.Context, on bool) error {
	return g.ch.Broadcast(ctx, CmdGroupOutput, onOff(on))
}

// Save stores present settings on every supply (GSAV).
func (g *Group) Save(ctx context.Context) error {
	return g.ch.Broadcast(ctx, CmdGroupSave, "")
}

// Recall restores last settings on every supply (GRCL).
func (g *Group) Recall(ctx context.Context) error {
	return g.ch.Broadcast(ctx, CmdGroupRecall, "")
}
