package identity

import (
	"time"

	"github.com/meeraPraveen/RMTLogistics-sub000/internal/shared"
)

// User is an Identity Record: the authoritative view of a principal. The
// provider-side profile is a projection of this row.
type User struct {
	ID         int64
	ExternalID shared.ExternalID
	Email      string
	Name       string
	Role       *string
	IsActive   bool
	CompanyID  *int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastLogin  *time.Time
}
