package exception

import "github.com/yanun0323/errors"

var (
	ErrVenueRequest        = errors.New("venue: request failed")
	ErrVenueResponse       = errors.New("venue: error response")
	ErrVenueUnsupported    = errors.New("venue: unsupported operation")
	ErrVenueUnknownOrder   = errors.New("venue: unknown order")
	ErrVenueUnknownSymbol  = errors.New("venue: unknown symbol")
	ErrVenueMissingAPIKey  = errors.New("venue: missing api key")
	ErrNotifyNotConfigured = errors.New("notify: not configured")
	ErrNotifyRequest       = errors.New("notify: request failed")
)
