package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a signal.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Status is the lifecycle state of a signal.
// PENDING/ACTIVE/PARTIAL_WIN are non-terminal; WIN/LOSS/EXPIRED are terminal
// and immutable once set.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusActive     Status = "ACTIVE"
	StatusPartialWin Status = "PARTIAL_WIN"
	StatusWin        Status = "WIN"
	StatusLoss       Status = "LOSS"
	StatusExpired    Status = "EXPIRED"
)

// IsTerminal reports whether the status accepts no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusWin, StatusLoss, StatusExpired:
		return true
	}
	return false
}

// Signal is a proposed trade tracked from proposal through fill, partial
// realization and final close. It is also the gorm row for the signals table.
//
// Invariants enforced by the audit engine:
//   - at most one non-terminal Signal per symbol
//   - Stage never decreases while non-terminal
//   - ActivationPrice is set exactly once, at the PENDING->ACTIVE transition
//   - FeesPaid never decreases
//   - ClosedAt/FinalPrice/PnlPercent are set atomically with a terminal status
type Signal struct {
	ID              string          `gorm:"primaryKey" json:"id"`
	Symbol          string          `gorm:"index" json:"symbol"`
	Side            Side            `json:"side"`
	Status          Status          `gorm:"index" json:"status"`
	Strategy        string          `json:"strategy"`
	Timeframe       string          `json:"timeframe"`
	PlannedEntry    decimal.Decimal `gorm:"type:numeric" json:"planned_entry"`
	ActivationPrice *decimal.Decimal `gorm:"type:numeric" json:"activation_price,omitempty"`
	StopLoss        decimal.Decimal `gorm:"type:numeric" json:"stop_loss"`
	TakeProfit1     decimal.Decimal `gorm:"type:numeric" json:"take_profit_1"`
	TakeProfit2     decimal.Decimal `gorm:"type:numeric" json:"take_profit_2"`
	TakeProfit3     decimal.Decimal `gorm:"type:numeric" json:"take_profit_3"`
	Stage           int             `json:"stage"`
	FeesPaid        decimal.Decimal `gorm:"type:numeric" json:"fees_paid"`
	ConfidenceScore decimal.Decimal `gorm:"type:numeric" json:"confidence_score"`
	CreatedAt       time.Time       `json:"created_at"`
	ClosedAt        *time.Time      `json:"closed_at,omitempty"`
	FinalPrice      *decimal.Decimal `gorm:"type:numeric" json:"final_price,omitempty"`
	PnlPercent      *decimal.Decimal `gorm:"type:numeric" json:"pnl_percent,omitempty"`
	// RealizedPnlPercent records the proportional PnL of the fraction exited
	// at TP1. Once a partial is secured it is added into the final PnlPercent;
	// the remaining position's move is still taken at full weight, not blended
	// by exit ratio.
	RealizedPnlPercent *decimal.Decimal `gorm:"type:numeric" json:"realized_pnl_percent,omitempty"`
}

// EffectiveStop returns the stop level currently guarding the position:
// the original stop loss before any partial is secured, the activation price
// (breakeven) afterwards.
func (s *Signal) EffectiveStop() decimal.Decimal {
	if s.Stage >= 1 && s.ActivationPrice != nil {
		return *s.ActivationPrice
	}
	return s.StopLoss
}

// StopHit reports whether price has crossed the effective stop against the
// position.
func (s *Signal) StopHit(price decimal.Decimal) bool {
	stop := s.EffectiveStop()
	if s.Side == SideLong {
		return price.LessThanOrEqual(stop)
	}
	return price.GreaterThanOrEqual(stop)
}

// TargetHit reports whether price has reached the given take-profit level in
// the position's favorable direction.
func (s *Signal) TargetHit(price, target decimal.Decimal) bool {
	if s.Side == SideLong {
		return price.GreaterThanOrEqual(target)
	}
	return price.LessThanOrEqual(target)
}

// InProfit reports whether price is strictly more favorable than the
// activation price. Guards TP1 against a stale or inverted level firing on a
// losing tick.
func (s *Signal) InProfit(price decimal.Decimal) bool {
	if s.ActivationPrice == nil {
		return false
	}
	if s.Side == SideLong {
		return price.GreaterThan(*s.ActivationPrice)
	}
	return price.LessThan(*s.ActivationPrice)
}

// GrossPnlPercent is the signed percentage move from activation to price,
// positive when the move favors the position.
func (s *Signal) GrossPnlPercent(price decimal.Decimal) decimal.Decimal {
	if s.ActivationPrice == nil || s.ActivationPrice.IsZero() {
		return decimal.Zero
	}
	move := price.Sub(*s.ActivationPrice).Div(*s.ActivationPrice).Mul(decimal.NewFromInt(100))
	if s.Side == SideShort {
		move = move.Neg()
	}
	return move
}

// NetPnlPercent is GrossPnlPercent minus total fees expressed as a percentage
// of the activation price.
func (s *Signal) NetPnlPercent(price decimal.Decimal) decimal.Decimal {
	if s.ActivationPrice == nil || s.ActivationPrice.IsZero() {
		return decimal.Zero
	}
	feePct := s.FeesPaid.Div(*s.ActivationPrice).Mul(decimal.NewFromInt(100))
	return s.GrossPnlPercent(price).Sub(feePct)
}

// SlipAgainst returns price moved against the side by rate (e.g. 0.0005 for
// 0.05%): up for a LONG entry, down for a SHORT entry.
func SlipAgainst(side Side, price, rate decimal.Decimal) decimal.Decimal {
	adj := price.Mul(rate)
	if side == SideLong {
		return price.Add(adj)
	}
	return price.Sub(adj)
}

// WithinBand reports whether price lies within tolerance (fractional, e.g.
// 0.003) of reference.
func WithinBand(price, reference, tolerance decimal.Decimal) bool {
	if reference.IsZero() {
		return false
	}
	diff := price.Sub(reference).Abs().Div(reference)
	return diff.LessThanOrEqual(tolerance)
}

// ExpiryLimit returns the maximum age a PENDING signal of the given timeframe
// may reach before the sweep expires it.
func ExpiryLimit(timeframe string) time.Duration {
	if timeframe == "15m" {
		return 4 * time.Hour
	}
	return 48 * time.Hour
}
