/*

This file contains the error taxonomy callers branch on.

*/

package types

// ErrorKind classifies a failed operation.
type ErrorKind int

const (
	ErrorKindNone       ErrorKind = iota
	ErrorKindValidation           // bad input, rejected before any state is touched
	ErrorKindInvariant            // a limit or cooldown would be breached
	ErrorKindResource             // not enough balance or allocation
	ErrorKindExternal             // a venue, price feed or other collaborator failed
	ErrorKindEmergency            // a persistent emergency state blocks the operation
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNone:
		return "none"
	case ErrorKindValidation:
		return "validation"
	case ErrorKindInvariant:
		return "invariant"
	case ErrorKindResource:
		return "resource"
	case ErrorKindExternal:
		return "external"
	case ErrorKindEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}
