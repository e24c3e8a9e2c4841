package ports

import (
	"context"
	"time"

	"github.com/Agrid-Dev/stmq/internal/audit"
	"github.com/Agrid-Dev/stmq/internal/heating"
	"github.com/Agrid-Dev/stmq/internal/prices"
)

// HeatingService is the control-plane port used by controllers (HTTP/MQTT/Modbus).
type HeatingService interface {
	Status() heating.Status
	Prices(now time.Time) []prices.Period
	Adjust(ctx context.Context) (heating.Decision, error)
}

// History serves recorded decisions, newest first.
type History interface {
	Recent(ctx context.Context, n int) ([]audit.Row, error)
}
