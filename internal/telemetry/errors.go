package telemetry

import "codeberg.org/mutker/picarctl/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrorCode("telemetry_invalid_config")

	// Collection Errors
	ErrDiagnostics = errors.ErrorCode("telemetry_diagnostics_failed")

	// Delivery Errors
	ErrPublish = errors.ErrorCode("telemetry_publish_failed")
	ErrEncode  = errors.ErrorCode("telemetry_encode_failed")
)
