package price

import (
	"errors"
	"fmt"
)

// ErrThrottled is the cause of a ProviderError raised by the local throttle
var ErrThrottled = errors.New("provider call throttled")

// ProviderError is any failure talking to the market data provider: transport,
// timeout, rate limit, non-2xx status or an undecodable body.
type ProviderError struct {
	Op          string
	Status      int
	RateLimited bool
	Err         error
}

func (e *ProviderError) Error() string {
	switch {
	case e.RateLimited:
		return fmt.Sprintf("provider %s: rate limited: %v", e.Op, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("provider %s: status %d: %v", e.Op, e.Status, e.Err)
	default:
		return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err carries a rate-limited ProviderError
func IsRateLimited(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.RateLimited
}
