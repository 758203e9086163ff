package exception

import "errors"

var (
	ErrBarsRateLimited    = errors.New("bars: rate limited after retries")
	ErrBarsBadStatus      = errors.New("bars: unexpected response status")
	ErrBarsNilStore       = errors.New("bars: nil store")
	ErrBarsInvalidRequest = errors.New("bars: invalid request")
)
