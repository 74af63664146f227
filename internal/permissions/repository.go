package permissions

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for the role-permission
// catalog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GrantsForRole returns the role's grants ordered by module.
func (r *Repository) GrantsForRole(ctx context.Context, role string) ([]ModuleGrant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT role, module, permissions, updated_at FROM role_permissions WHERE role = $1 ORDER BY module`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

// ListGrants returns the whole catalog ordered by role then module.
func (r *Repository) ListGrants(ctx context.Context) ([]ModuleGrant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT role, module, permissions, updated_at FROM role_permissions ORDER BY role, module`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

// UpsertGrant writes one (role, module) action list.
func (r *Repository) UpsertGrant(ctx context.Context, role, module string, actions []string) error {
	payload, err := json.Marshal(actions)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO role_permissions (role, module, permissions, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (role, module) DO UPDATE SET permissions = EXCLUDED.permissions, updated_at = NOW()`,
		role, module, payload)
	return err
}

// DeleteGrant removes one (role, module) entry.
func (r *Repository) DeleteGrant(ctx context.Context, role, module string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM role_permissions WHERE role = $1 AND module = $2`, role, module)
	return err
}

type grantRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanGrants(rows grantRows) ([]ModuleGrant, error) {
	var grants []ModuleGrant
	for rows.Next() {
		var g ModuleGrant
		var payload []byte
		var updatedAt pgtype.Timestamptz
		if err := rows.Scan(&g.Role, &g.Module, &payload, &updatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &g.Actions); err != nil {
				return nil, err
			}
		}
		if updatedAt.Valid {
			g.UpdatedAt = updatedAt.Time
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}
