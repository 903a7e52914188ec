package vault

// RiskMode is the vault's risk-control state. It is orthogonal to the paused flag.
//
//	Normal -> FrozenRebalancing <-> WithdrawOnly -> EmergencyUnwound
//
// Improving scores lift FrozenRebalancing and WithdrawOnly. EmergencyUnwound is terminal.
type RiskMode int32

const (
	RiskModeNormal RiskMode = iota
	RiskModeFrozenRebalancing
	RiskModeWithdrawOnly
	RiskModeEmergencyUnwound
)

func (m RiskMode) String() string {
	switch m {
	case RiskModeNormal:
		return "NORMAL"
	case RiskModeFrozenRebalancing:
		return "FROZEN_REBALANCING"
	case RiskModeWithdrawOnly:
		return "WITHDRAW_ONLY"
	case RiskModeEmergencyUnwound:
		return "EMERGENCY_UNWOUND"
	default:
		return "UNKNOWN"
	}
}

func (m RiskMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
