package models

import "time"

// Direction of a position or proposed trade.
type Direction int

const (
	DirectionNone  Direction = 0
	DirectionLong  Direction = 1
	DirectionShort Direction = -1
)

func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "long"
	case DirectionShort:
		return "short"
	default:
		return "none"
	}
}

// Action returns the ledger action for the direction.
func (d Direction) Action() Action {
	switch d {
	case DirectionLong:
		return ActionBuy
	case DirectionShort:
		return ActionSell
	default:
		return ActionHold
	}
}

// Action indexes Q-values in a strategy ledger.
type Action int

const (
	ActionBuy Action = iota
	ActionSell
	ActionHold
)

func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	default:
		return "hold"
	}
}

// AgentKind is the closed set of competing agents.
type AgentKind int

const (
	AgentSniper AgentKind = iota
	AgentBerserker
)

// AgentKinds lists every agent in engine order.
var AgentKinds = [...]AgentKind{AgentSniper, AgentBerserker}

func (k AgentKind) String() string {
	if k == AgentBerserker {
		return "berserker"
	}
	return "sniper"
}

// Position is a virtual (shadow) or live position held in the engine pool.
type Position struct {
	Handle       string
	Instrument   string
	Agent        AgentKind
	Shadow       bool
	Direction    Direction
	EntryPrice   float64
	EntryTime    time.Time
	StopPrice    float64
	TargetPrice  float64
	Size         float64
	RegimeBucket int
	ChiZ         float64
	AccelZ       float64
	MaxAdverse   float64
	MaxFavorable float64
	Friction     float64
	TickSize     float64
	TickValue    float64
}

// Excursion returns the signed price move in the position's favor.
func (p *Position) Excursion(price float64) float64 {
	return (price - p.EntryPrice) * float64(p.Direction)
}

// Track updates running adverse/favorable excursion for the given mark price.
func (p *Position) Track(price float64) {
	ex := p.Excursion(price)
	if ex > p.MaxFavorable {
		p.MaxFavorable = ex
	}
	if -ex > p.MaxAdverse {
		p.MaxAdverse = -ex
	}
}

// GrossPnL converts an exit price into account currency before friction.
func (p *Position) GrossPnL(exit float64) float64 {
	if p.TickSize <= 0 {
		return 0
	}
	return p.Excursion(exit) / p.TickSize * p.TickValue * p.Size
}

// ClosedTrade is the record emitted when a position leaves the pool.
type ClosedTrade struct {
	Handle          string    `json:"handle"`
	Instrument      string    `json:"instrument"`
	Agent           string    `json:"agent"`
	Shadow          bool      `json:"shadow"`
	Direction       string    `json:"direction"`
	RegimeBucket    int       `json:"regime_bucket"`
	EntryPrice      float64   `json:"entry_price"`
	ExitPrice       float64   `json:"exit_price"`
	Size            float64   `json:"size"`
	NetPnL          float64   `json:"net_pnl"`
	Reward          float64   `json:"reward"`
	DurationMinutes float64   `json:"duration_minutes"`
	MaxAdverse      float64   `json:"max_adverse"`
	MaxFavorable    float64   `json:"max_favorable"`
	Reason          string    `json:"reason"`
	OpenedAt        time.Time `json:"opened_at"`
	ClosedAt        time.Time `json:"closed_at"`
}

// Decision is emitted for every agent evaluation that produced a direction.
type Decision struct {
	Instrument string    `json:"instrument"`
	Agent      string    `json:"agent"`
	Regime     string    `json:"regime"`
	Direction  string    `json:"direction"`
	PWin       float64   `json:"p_win"`
	Size       float64   `json:"size"`
	Live       bool      `json:"live"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}
