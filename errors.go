package carotene

import "errors"

var (
	// ErrNotConnected is returned by sends while no transport is open.
	ErrNotConnected = errors.New("carotene: not connected")

	ErrNoAddress          = errors.New("carotene: no server address")
	ErrAlreadyInitialized = errors.New("carotene: client already initialized")
	ErrNotInitialized     = errors.New("carotene: client not initialized")
	ErrUnknownEngine      = errors.New("carotene: unknown websocket engine")
	ErrInvalidBackoff     = errors.New("carotene: invalid backoff bounds")
	ErrNoChannel          = errors.New("carotene: empty channel name")
)
