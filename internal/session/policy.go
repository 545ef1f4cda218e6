package session

// SizingPolicy decides the next stake from the outcome of the last trade.
// Policies never see the session itself, only the base and current stakes,
// so they stay trivially testable.
type SizingPolicy interface {
	Name() string
	NextAfterWin(base, current float64) float64
	NextAfterLoss(base, current float64) float64
}

// FlatRecovery resets the stake to the base amount after a win and holds it
// after a loss. Risk escalation is left entirely to the consecutive-loss
// circuit breaker. This is the default policy.
type FlatRecovery struct{}

func (FlatRecovery) Name() string { return "flat" }

func (FlatRecovery) NextAfterWin(base, current float64) float64 {
	return base
}

func (FlatRecovery) NextAfterLoss(base, current float64) float64 {
	return current
}

// Martingale resets to the base amount after a win and multiplies the stake
// by Factor after a loss, capped at Cap times the base amount (0 = uncapped).
// Classic loss-recovery staking; use with a tight loss limit.
type Martingale struct {
	Factor float64
	Cap    float64
}

func (Martingale) Name() string { return "martingale" }

func (m Martingale) NextAfterWin(base, current float64) float64 {
	return base
}

func (m Martingale) NextAfterLoss(base, current float64) float64 {
	factor := m.Factor
	if factor <= 1 {
		factor = 2
	}

	next := current * factor
	if m.Cap > 0 && next > base*m.Cap {
		next = base * m.Cap
	}
	return next
}

// PolicyFromName maps a configured policy name to an implementation,
// falling back to flat recovery for anything unrecognized.
func PolicyFromName(name string, factor, cap float64) SizingPolicy {
	switch name {
	case "martingale":
		return Martingale{Factor: factor, Cap: cap}
	default:
		return FlatRecovery{}
	}
}
