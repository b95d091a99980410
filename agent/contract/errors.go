package contract

import "errors"

var (
	ErrInvalidDate        = errors.New("invalid date")
	ErrNotFound           = errors.New("order not found")
	ErrAlreadyTerminal    = errors.New("order is already in a terminal status")
	ErrProtocolViolation  = errors.New("agent protocol violation")
	ErrTelemetryParse     = errors.New("telemetry payload parse error")
	ErrToolTimeout        = errors.New("tool call timed out")
	ErrSeedingFailure     = errors.New("order store seeding failed")
	ErrAgentCallFailure   = errors.New("agent call failed")
	ErrUnknownTool        = errors.New("unknown tool")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrInsufficientOrders = errors.New("not enough orders for experiment")
	ErrRecordSealed       = errors.New("conversation record is sealed")
)
