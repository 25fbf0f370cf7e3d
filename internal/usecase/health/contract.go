package health

import "context"

// StorePinger checks cache store availability.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// VisionChecker checks vision model reachability.
type VisionChecker interface {
	HealthCheck(ctx context.Context) error
}
