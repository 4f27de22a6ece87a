package transport

import "codeberg.org/mutker/picarctl/internal/errors"

const (
	ErrInvalidConfig = errors.ErrorCode("transport_invalid_config")
	ErrListen        = errors.ErrorCode("transport_listen_failed")
	ErrUpgrade       = errors.ErrorCode("transport_upgrade_failed")
	ErrEncode        = errors.ErrorCode("transport_encode_failed")
)
