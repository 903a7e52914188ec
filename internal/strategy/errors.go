package strategy

import (
	"errors"

	"github.com/nexxore/safeyield/internal/guard"
)

var (
	ErrZeroAmount           = errors.New("amount must be positive")
	ErrInvalidAddress       = errors.New("invalid address")
	ErrUnauthorized         = errors.New("caller lacks required role")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrUtilizationTooHigh   = errors.New("venue utilization above hard ceiling")
	ErrEmergencyModeActive  = errors.New("strategy is in emergency mode")
	ErrStablecoinDepegged   = errors.New("stable asset outside peg tolerance")
	ErrUnprofitablePosition = errors.New("position unprofitable beyond grace period")
	ErrStalePrice           = errors.New("price feed answer is stale")
	ErrUnwindStalled        = errors.New("unwind made no progress")

	ErrReentrantCall = guard.ErrReentrantCall
)
