package engine

import "errors"

// Typed rejection reasons returned to submitters. Handlers map these onto
// HTTP status codes; nothing in the engine ever swallows one.
var (
	// ErrInvalidOrder rejects a malformed or economically nonsensical
	// request: non-positive quantity, missing required price, or a market
	// order against an empty opposing book.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrNotFound is returned by cancel when no order with that ID exists.
	ErrNotFound = errors.New("order not found")

	// ErrAlreadyTerminal is returned by cancel when the order exists but is
	// already filled, cancelled or rejected.
	ErrAlreadyTerminal = errors.New("order already terminal")

	// ErrUnknownInstrument rejects operations on a symbol that was never
	// listed.
	ErrUnknownInstrument = errors.New("unknown instrument")

	// ErrInsufficientFunds rejects a buy whose notional exceeds the
	// submitter's cash at admission time.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientShares rejects a sell for more shares than the
	// submitter holds at admission time.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrEngineStopped is returned when submitting to an engine that is not
	// running.
	ErrEngineStopped = errors.New("matching engine is not running")
)
