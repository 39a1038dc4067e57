package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInsufficientData = errors.New("insufficient data")
	ErrBookNotReady     = errors.New("orderbook awaiting snapshot")
	ErrMalformedMessage = errors.New("malformed message")
	ErrWSDisconnect     = errors.New("websocket disconnected")
	ErrInvalidOrder     = errors.New("invalid order parameters")
)
