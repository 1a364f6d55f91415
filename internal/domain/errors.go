package domain

import "errors"

// Sentinel errors every layer classifies against with errors.Is. The chain
// adapter is responsible for mapping transport failures onto these; nothing
// above it inspects error strings.
var (
	ErrQuoteUnavailable      = errors.New("quote unavailable")
	ErrSimulationRejected    = errors.New("simulation rejected")
	ErrConfirmationTimeout   = errors.New("confirmation timeout")
	ErrReplacementExhausted  = errors.New("replacement budget exhausted")
	ErrAllowanceNotConfirmed = errors.New("allowance not confirmed")
)
