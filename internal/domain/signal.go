package domain

import (
	"time"

	"github.com/google/uuid"
)

// SignalType classifies the pattern that produced a signal.
type SignalType string

const (
	SignalBreakout     SignalType = "BREAKOUT"
	SignalPullback     SignalType = "PULLBACK"
	SignalReversal     SignalType = "REVERSAL"
	SignalContinuation SignalType = "CONTINUATION"
)

// Direction is the side of a trade.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Outcome is the terminal result of a closed signal.
type Outcome string

const (
	OutcomeOpen      Outcome = "OPEN"
	OutcomeWin       Outcome = "WIN"
	OutcomeLoss      Outcome = "LOSS"
	OutcomeBreakeven Outcome = "BREAKEVEN"
)

// Mode distinguishes simulated, paper, and live trading.
type Mode string

const (
	ModeBacktest Mode = "BACKTEST"
	ModeLive     Mode = "LIVE"
	ModePaper    Mode = "PAPER"
)

// IndicatorSnapshot holds the technical indicators computed over a bar
// window ending at a given bar. Zero values mean "not available".
type IndicatorSnapshot struct {
	ATR           float64
	EMA20         float64
	EMA50         float64
	VWAP          float64
	RSI           float64
	MACD          float64
	MACDSignal    float64
	MACDHistogram float64
}

// Merge returns a copy of s with any non-zero field from the override
// applied. MACD fields are always taken from s: external providers supply
// only the base indicators.
func (s IndicatorSnapshot) Merge(override IndicatorSnapshot) IndicatorSnapshot {
	out := s
	if override.ATR != 0 {
		out.ATR = override.ATR
	}
	if override.EMA20 != 0 {
		out.EMA20 = override.EMA20
	}
	if override.EMA50 != 0 {
		out.EMA50 = override.EMA50
	}
	if override.VWAP != 0 {
		out.VWAP = override.VWAP
	}
	if override.RSI != 0 {
		out.RSI = override.RSI
	}
	return out
}

// ConfluenceFactors are the five weighted sub-scores, each in [0,1], that
// combine into a signal's confluence score.
type ConfluenceFactors struct {
	TrendAlignment        float64
	VolumeConfirmation    float64
	SupportResistance     float64
	MomentumStrength      float64
	VolatilityAppropriate float64
}

// Score combines the factors with fixed weights into a value in [0,1].
func (f ConfluenceFactors) Score() float64 {
	return f.TrendAlignment*0.25 +
		f.VolumeConfirmation*0.20 +
		f.SupportResistance*0.20 +
		f.MomentumStrength*0.20 +
		f.VolatilityAppropriate*0.15
}

// Signal is a scored candidate trade and, once executed, the record of the
// resulting position through to its close.
type Signal struct {
	ID        string
	Symbol    string
	Timestamp time.Time
	Type      SignalType
	Direction Direction
	Price     float64
	Quantity  int64

	StopLoss   float64
	TakeProfit float64

	Indicators IndicatorSnapshot
	IsEnriched bool

	ConfluenceScore float64
	ReasonCodes     []string

	RiskRewardRatio float64
	MaxRisk         float64

	OrderID          string
	ExecutedAt       time.Time
	ExecutedPrice    float64
	ExecutedQuantity int64

	Outcome    Outcome
	PnL        float64
	ExitReason string
	ClosedAt   time.Time

	Mode      Mode
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSignalID returns a fresh unique signal identifier.
func NewSignalID() string {
	return uuid.NewString()
}

// Order is a request to an execution venue.
type Order struct {
	Symbol        string
	Side          Direction
	Quantity      int64
	Type          string // "market", "limit"
	LimitPrice    float64
	TimeInForce   string // "day", "gtc"
	ExtendedHours bool
}

// OrderResponse is the venue's acknowledgement of an order.
type OrderResponse struct {
	OrderID        string
	Status         string
	FilledQuantity int64
	FilledPrice    float64
	Timestamp      time.Time
}

// Position is an open holding reported by an execution venue.
type Position struct {
	Symbol        string
	Quantity      int64
	AveragePrice  float64
	MarketValue   float64
	UnrealizedPnL float64
	Timestamp     time.Time
}

// AccountBalance is a snapshot of an account's financial state.
type AccountBalance struct {
	AccountID   string
	Cash        float64
	BuyingPower float64
	Equity      float64
	Timestamp   time.Time
}
