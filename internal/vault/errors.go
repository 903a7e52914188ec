package vault

import (
	"errors"

	"github.com/nexxore/safeyield/internal/guard"
	"github.com/nexxore/safeyield/internal/strategy"
	"github.com/nexxore/safeyield/internal/types"
)

var (
	ErrInvalidWeight         = errors.New("invalid strategy weight")
	ErrStrategyAlreadyExists = errors.New("strategy already registered")
	ErrMaxStrategiesExceeded = errors.New("strategy registry is full")
	ErrTotalWeightExceeded   = errors.New("total weight exceeds 10000 bps")
	ErrStrategyNotFound      = errors.New("strategy not registered")
	ErrRebalanceTooSoon      = errors.New("rebalance cooldown has not elapsed")
	ErrPaused                = errors.New("vault is paused")
	ErrRebalanceFrozen       = errors.New("rebalancing is frozen by risk control")
	ErrWithdrawOnly          = errors.New("vault is withdraw-only")
	ErrEmergencyUnwound      = errors.New("vault has been emergency unwound")
	ErrInvalidFee            = errors.New("performance fee above ceiling")

	ErrInsufficientBalance = strategy.ErrInsufficientBalance
	ErrUnauthorized        = strategy.ErrUnauthorized
	ErrZeroAmount          = strategy.ErrZeroAmount
	ErrInvalidAddress      = strategy.ErrInvalidAddress
	ErrReentrantCall       = guard.ErrReentrantCall
)

var kinds = []struct {
	kind types.ErrorKind
	errs []error
}{
	{types.ErrorKindEmergency, []error{strategy.ErrEmergencyModeActive, ErrEmergencyUnwound}},
	{types.ErrorKindValidation, []error{
		ErrInvalidWeight, ErrZeroAmount, ErrInvalidAddress, ErrStrategyNotFound,
		ErrStrategyAlreadyExists, ErrUnauthorized, ErrInvalidFee,
	}},
	{types.ErrorKindInvariant, []error{
		ErrTotalWeightExceeded, ErrMaxStrategiesExceeded, ErrRebalanceTooSoon, ErrPaused,
		ErrRebalanceFrozen, ErrWithdrawOnly, ErrReentrantCall,
		strategy.ErrUtilizationTooHigh, strategy.ErrStablecoinDepegged, strategy.ErrUnprofitablePosition,
		strategy.ErrStalePrice,
	}},
	{types.ErrorKindResource, []error{ErrInsufficientBalance}},
}

// Kind classifies err. Anything not raised by the engine itself is an external failure.
func Kind(err error) types.ErrorKind {
	if err == nil {
		return types.ErrorKindNone
	}
	for _, k := range kinds {
		for _, target := range k.errs {
			if errors.Is(err, target) {
				return k.kind
			}
		}
	}
	return types.ErrorKindExternal
}
