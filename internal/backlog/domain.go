// Package backlog is the durable record of remote-sync intent that has not
// yet converged. Every failed provider push lands here as an operation with a
// bounded retry budget; draining the backlog converges the provider to the
// local authoritative state.
package backlog

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/meeraPraveen/RMTLogistics-sub000/internal/idp"
)

// Kind names the remote operation a backlog row replays.
type Kind string

const (
	// KindCreate replays a profile create.
	KindCreate Kind = "create"
	// KindUpdate replays a profile patch, including membership moves.
	KindUpdate Kind = "update"
	// KindDelete replays the remote block issued for a local delete.
	KindDelete Kind = "delete"
	// KindOrgCreate replays an organization create.
	KindOrgCreate Kind = "org_create"
	// KindOrgUpdate replays an organization patch.
	KindOrgUpdate Kind = "org_update"
	// KindOrgDelete replays an organization delete.
	KindOrgDelete Kind = "org_delete"
)

// Status is the operation lifecycle state. pending may loop back to pending
// while under the retry ceiling; completed and failed are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Operation is one outstanding or historical remote-sync attempt.
type Operation struct {
	ID              int64
	Kind            Kind
	ExternalID      string
	Email           string
	Payload         Payload
	LastError       string
	Status          Status
	RetryCount      int
	MaxRetries      int
	TraceID         uuid.UUID
	CreatedAt       time.Time
	LastAttemptedAt *time.Time
	CompletedAt     *time.Time
}

// CreateProfilePayload carries everything needed to replay a profile create
// and backfill the local external id afterwards.
type CreateProfilePayload struct {
	LocalID int64              `json:"local_id"`
	Email   string             `json:"email"`
	Name    string             `json:"name"`
	Blocked bool               `json:"blocked,omitempty"`
	Bundle  idp.MetadataBundle `json:"bundle"`

	// RefreshBundle rebuilds the bundle from local state at replay time,
	// for operations enqueued before the bundle could be computed.
	RefreshBundle bool `json:"refresh_bundle,omitempty"`
}

// UpdateProfilePayload carries a profile merge patch plus any membership move
// that must precede it.
type UpdateProfilePayload struct {
	ExternalID string              `json:"external_id"`
	LocalID    int64               `json:"local_id,omitempty"`
	Name       *string             `json:"name,omitempty"`
	Blocked    *bool               `json:"blocked,omitempty"`
	Bundle     *idp.MetadataBundle `json:"bundle,omitempty"`
	JoinOrgID  *string             `json:"join_org_id,omitempty"`
	LeaveOrgID *string             `json:"leave_org_id,omitempty"`

	// RefreshBundle rebuilds the bundle from local state at replay time.
	// Requires LocalID.
	RefreshBundle bool `json:"refresh_bundle,omitempty"`
}

// BlockProfilePayload carries the remote block for a deleted identity.
type BlockProfilePayload struct {
	ExternalID string `json:"external_id"`
}

// CreateOrgPayload carries an organization create replay.
type CreateOrgPayload struct {
	LocalID     int64          `json:"local_id"`
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// UpdateOrgPayload carries an organization patch replay.
type UpdateOrgPayload struct {
	ExternalID  string         `json:"external_id"`
	DisplayName *string        `json:"display_name,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// DeleteOrgPayload carries an organization delete replay.
type DeleteOrgPayload struct {
	ExternalID string `json:"external_id"`
}

// Payload is a tagged union; exactly one variant is set and it determines the
// operation kind. Keeping the variants typed makes retry dispatch an
// exhaustive switch instead of a kind-string switch over loose JSON.
type Payload struct {
	CreateProfile *CreateProfilePayload `json:"create_profile,omitempty"`
	UpdateProfile *UpdateProfilePayload `json:"update_profile,omitempty"`
	BlockProfile  *BlockProfilePayload  `json:"block_profile,omitempty"`
	CreateOrg     *CreateOrgPayload     `json:"create_org,omitempty"`
	UpdateOrg     *UpdateOrgPayload     `json:"update_org,omitempty"`
	DeleteOrg     *DeleteOrgPayload     `json:"delete_org,omitempty"`
}

// ErrAmbiguousPayload indicates zero or multiple variants were set.
var ErrAmbiguousPayload = errors.New("backlog: payload must set exactly one variant")

// ErrClaimConflict indicates another retry claimed the operation between the
// caller's read and its claim attempt.
var ErrClaimConflict = errors.New("backlog: operation claimed by a concurrent retry")

// Kind derives the operation kind from the set variant.
func (p Payload) Kind() (Kind, error) {
	var kind Kind
	set := 0
	if p.CreateProfile != nil {
		kind, set = KindCreate, set+1
	}
	if p.UpdateProfile != nil {
		kind, set = KindUpdate, set+1
	}
	if p.BlockProfile != nil {
		kind, set = KindDelete, set+1
	}
	if p.CreateOrg != nil {
		kind, set = KindOrgCreate, set+1
	}
	if p.UpdateOrg != nil {
		kind, set = KindOrgUpdate, set+1
	}
	if p.DeleteOrg != nil {
		kind, set = KindOrgDelete, set+1
	}
	if set != 1 {
		return "", ErrAmbiguousPayload
	}
	return kind, nil
}
