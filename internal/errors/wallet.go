package errors

var (
	// Validation
	ErrInvalidAmount = &DomainError{
		Code:    "INVALID_AMOUNT",
		Message: "amount must be positive",
	}
	ErrBelowMinimum = &DomainError{
		Code:    "AMOUNT_BELOW_MINIMUM",
		Message: "amount is below the minimum",
	}
	ErrCurrencyMismatch = &DomainError{
		Code:    "CURRENCY_MISMATCH",
		Message: "wallet currencies do not match",
	}
	ErrSelfTransfer = &DomainError{
		Code:    "SELF_TRANSFER",
		Message: "cannot transfer to the same wallet",
	}
	ErrInvalidPIN = &DomainError{
		Code:    "INVALID_PIN",
		Message: "invalid PIN",
	}
	ErrPINNotSet = &DomainError{
		Code:    "PIN_NOT_SET",
		Message: "no PIN has been set for this wallet",
	}

	// Not found
	ErrWalletNotFound = &DomainError{
		Code:    "WALLET_NOT_FOUND",
		Message: "wallet not found",
	}
	ErrTransactionNotFound = &DomainError{
		Code:    "TRANSACTION_NOT_FOUND",
		Message: "transaction not found",
	}

	// Conflict
	ErrDuplicateTransaction = &DomainError{
		Code:    "DUPLICATE_TRANSACTION",
		Message: "transaction id already used",
	}
	ErrInvalidTransition = &DomainError{
		Code:    "INVALID_TRANSITION",
		Message: "transaction is not in a state that allows this operation",
	}
	ErrInProgress = &DomainError{
		Code:    "IN_PROGRESS",
		Message: "an identical request is already being processed",
	}

	// Business limits
	ErrDailyLimitExceeded = &DomainError{
		Code:    "DAILY_LIMIT_EXCEEDED",
		Message: "daily transaction limit exceeded",
	}
	ErrMonthlyLimitExceeded = &DomainError{
		Code:    "MONTHLY_LIMIT_EXCEEDED",
		Message: "monthly transaction limit exceeded",
	}

	// Transient / external
	ErrTooManyConflicts = &DomainError{
		Code:    "TOO_MANY_CONFLICTS",
		Message: "operation aborted after repeated write conflicts, retry later",
	}
	ErrGatewayUnavailable = &DomainError{
		Code:    "GATEWAY_UNAVAILABLE",
		Message: "payment gateway failed or timed out",
	}
	ErrProofRejected = &DomainError{
		Code:    "PROOF_REJECTED",
		Message: "payment gateway did not confirm this transaction",
	}
)
