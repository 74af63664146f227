// Package company manages tenants and mirrors them to provider-side
// organizations.
package company

import (
	"time"

	"github.com/meeraPraveen/RMTLogistics-sub000/internal/shared"
)

// Company is a tenant. EnabledModules scopes which application modules the
// tenant's members may use; the list is pushed as organization metadata.
type Company struct {
	ID             int64
	ExternalID     shared.ExternalID
	Name           string
	EnabledModules []string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
