package domain

// Action is the decision a strategy emits for the current bar.
type Action string

const (
	ActionEnterLong Action = "ENTER_LONG"
	ActionExit      Action = "EXIT"
	ActionHold      Action = "HOLD"
)

// Factor identifies one independent confirmation source.
type Factor string

const (
	FactorTrend     Factor = "trend"
	FactorMomentum  Factor = "momentum"
	FactorVolume    Factor = "volume"
	FactorPattern   Factor = "pattern"
	FactorSentiment Factor = "sentiment"
)

// Signal is the strategy output for one bar: the action, how many factors
// confirmed it, and which ones. The factor set is kept for diagnostics.
type Signal struct {
	Action        Action   `json:"action"`
	Confirmations int      `json:"confirmations"`
	Factors       []Factor `json:"factors,omitempty"`
}

func Hold() Signal {
	return Signal{Action: ActionHold}
}
