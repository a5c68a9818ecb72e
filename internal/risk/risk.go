// Package risk filters candidate signals against confluence, risk/reward,
// and volatility thresholds, and sizes positions from a risk budget.
package risk

import (
	"math"

	"tradecore/internal/config"
	"tradecore/internal/domain"
)

// Validator applies the pre-trade gates from a set of risk parameters.
type Validator struct {
	Params config.RiskParameters
}

// NewValidator creates a Validator for the given parameters.
func NewValidator(params config.RiskParameters) Validator {
	return Validator{Params: params}
}

// Validate reports whether the candidate passes the confluence,
// risk/reward, and volatility gates. A rejected candidate is simply
// dropped; rejection is not an error.
func (v Validator) Validate(sig domain.Signal) bool {
	if sig.ConfluenceScore < v.Params.ConfluenceThreshold() {
		return false
	}
	if sig.RiskRewardRatio != 0 && sig.RiskRewardRatio < v.Params.RiskRewardThreshold() {
		return false
	}
	// Volatility sanity bound: an ATR above 10% of price means the stop
	// distance is out of proportion to the instrument.
	if sig.Indicators.ATR != 0 && sig.Indicators.ATR > sig.Price*0.1 {
		return false
	}
	return true
}

// PositionSize returns the trade quantity given the account balance, the
// dollar risk budget for the trade, and the stop distance. The size is
// capped so the position never consumes more than 95% of the balance.
// Returns 0 when the risk per share is not positive; such a signal is
// discarded.
func PositionSize(balance, riskBudget, stopLoss, price float64) int64 {
	riskPerShare := math.Abs(price - stopLoss)
	if riskPerShare <= 0 {
		return 0
	}
	byRisk := int64(math.Floor(riskBudget / riskPerShare))
	byBalance := int64(math.Floor(balance * 0.95 / price))
	if byBalance < byRisk {
		return byBalance
	}
	return byRisk
}
