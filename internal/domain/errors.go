package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnsupportedExchange = errors.New("unsupported exchange")
	ErrConnection          = errors.New("connection failed")
	ErrSubscription        = errors.New("subscription failed")
	ErrPricing             = errors.New("pricing failed")
	ErrAmbiguousInstrument = errors.New("instrument registered with a different type")
	ErrClientClosed        = errors.New("client closed")
)
