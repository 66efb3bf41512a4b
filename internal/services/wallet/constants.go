package wallet

import "time"

// Default configuration values
const (
	DefaultCurrency        = "USD"
	DefaultConflictRetries = 3
	DefaultTimeout         = 30 * time.Second
)

// Operation names for metrics and events
const (
	opCredit   = "credit"
	opDebit    = "debit"
	opHold     = "hold"
	opRelease  = "release"
	opSuspend  = "suspend"
	opActivate = "activate"
)

// PIN length bounds
const (
	minPINLength = 4
	maxPINLength = 6
)
