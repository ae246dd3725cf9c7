package live

import (
	"errors"
)

// Errors reported through callbacks and returns are wrapped around these
// sentinels and can be matched with errors.Is. Transport failures are not
// part of this set: they surface only through disconnect notifications
// while the connection retries on its own.
var (
	// returned by Send when the channel is not open
	ErrNotConnected = errors.New("not connected")

	// the update's address resolved to nothing in the local document
	ErrAddressNotFound = errors.New("address not found")

	// PUT content was not exactly one element
	ErrInvalidContent = errors.New("invalid content")

	// section carried no usable data-target
	ErrMissingTarget = errors.New("missing target address")

	// section carried no usable data-method
	ErrMissingMethod = errors.New("missing method")

	// section method was not PUT, POST, or DELETE
	ErrUnknownMethod = errors.New("unknown method")
)
