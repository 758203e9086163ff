package exception

import "errors"

var (
	ErrFeedMalformedMessage = errors.New("feed: malformed message")
	ErrFeedUnknownType      = errors.New("feed: unknown message type")
	ErrFeedNotInitialized   = errors.New("feed: book not initialized")
	ErrFeedQueueFull        = errors.New("feed: event queue full")
	ErrFeedUnknownPair      = errors.New("feed: no processor for pair")
)
