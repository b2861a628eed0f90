package models

import "errors"

var (
	ErrInvalidSymbol    = errors.New("invalid symbol")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidCandle    = errors.New("invalid candle: low/high outside open-close range")
	ErrInvalidVolume    = errors.New("invalid volume")
	ErrInvalidAlertID   = errors.New("invalid alert ID")
)
