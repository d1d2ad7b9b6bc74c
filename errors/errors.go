package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	// Validation: rejected locally, never reaches a transport.
	ErrEmptyMessage = fmt.Errorf("message content is empty")

	// Connection family: the live channel could not be established or dropped.
	// Recoverable through the fallback path, never fatal.
	ErrConnectionFailed = fmt.Errorf("channel connection failed")
	ErrChannelNotOpen   = fmt.Errorf("channel is not open")
	ErrChannelClosed    = fmt.Errorf("channel closed")

	// Delivery family: the request/response send was rejected or the network
	// failed. Surfaced through the failed message state, recoverable by retry.
	ErrDeliveryFailed = fmt.Errorf("message delivery failed")
	ErrServerRejected = fmt.Errorf("server rejected the request")

	ErrUnknownConversation = fmt.Errorf("unknown conversation")
	ErrNoIdentity          = fmt.Errorf("no local identity available")
)

// IsValidation reports whether err means the input was rejected locally
// before reaching any transport.
func IsValidation(err error) bool {
	return stderrors.Is(err, ErrEmptyMessage) ||
		stderrors.Is(err, ErrUnknownConversation)
}

// IsConnection reports whether err means the live channel is unusable
// while the fallback path may still work.
func IsConnection(err error) bool {
	return stderrors.Is(err, ErrConnectionFailed) ||
		stderrors.Is(err, ErrChannelNotOpen) ||
		stderrors.Is(err, ErrChannelClosed)
}

// IsDelivery reports whether err means the message did not reach the server
// on any path.
func IsDelivery(err error) bool {
	return stderrors.Is(err, ErrDeliveryFailed) ||
		stderrors.Is(err, ErrServerRejected)
}
