// Package geoip defines the port for resolving client IP addresses to a
// location.
package geoip

import "context"

// Location is a best-effort geographic attribution. Empty fields mean unknown.
type Location struct {
	Country string `json:"country"`
	City    string `json:"city"`
}

// Resolver maps an IP address to a Location. A lookup error is never fatal
// to the caller: it comes with an empty Location and is reported as a
// warning alongside the result that needed it.
type Resolver interface {
	Lookup(ctx context.Context, ip string) (Location, error)
}

// Noop resolves every address to an empty Location.
type Noop struct{}

func (Noop) Lookup(context.Context, string) (Location, error) { return Location{}, nil }
