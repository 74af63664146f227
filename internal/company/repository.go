package company

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meeraPraveen/RMTLogistics-sub000/internal/shared"
)

const companyColumns = `id, external_id, name, enabled_modules, is_active, created_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get fetches a company by id.
func (r *Repository) Get(ctx context.Context, id int64) (Company, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id)
	return scanCompany(row)
}

// List returns all companies ordered by id.
func (r *Repository) List(ctx context.Context) ([]Company, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+companyColumns+` FROM companies ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var companies []Company
	for rows.Next() {
		company, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		companies = append(companies, company)
	}
	return companies, rows.Err()
}

// Create inserts a company. The external id starts NULL until the provider
// organization exists.
func (r *Repository) Create(ctx context.Context, name string, modules []string) (Company, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO companies (external_id, name, enabled_modules, is_active, created_at, updated_at)
		VALUES (NULL, $1, $2, TRUE, NOW(), NOW())
		RETURNING `+companyColumns,
		name, modulesJSON(modules))
	return scanCompany(row)
}

// Update rewrites name and enabled modules.
func (r *Repository) Update(ctx context.Context, id int64, name string, modules []string) error {
	return r.exec(ctx, `UPDATE companies SET name = $2, enabled_modules = $3, updated_at = NOW() WHERE id = $1`,
		id, name, modulesJSON(modules))
}

// SetActive flips the active flag.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	return r.exec(ctx, `UPDATE companies SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
}

// Delete removes the company row. Identities referencing it keep a dangling
// company_id cleared by the foreign key's ON DELETE SET NULL.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	return r.exec(ctx, `DELETE FROM companies WHERE id = $1`, id)
}

// ExternalOrgID resolves the provider organization id for a company. ok is
// false for companies that have not synced yet.
func (r *Repository) ExternalOrgID(ctx context.Context, id int64) (string, bool, error) {
	var externalID pgtype.Text
	err := r.pool.QueryRow(ctx, `SELECT external_id FROM companies WHERE id = $1`, id).Scan(&externalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, shared.ErrNotFound
		}
		return "", false, err
	}
	if !externalID.Valid || externalID.String == "" {
		return "", false, nil
	}
	return externalID.String, true, nil
}

// LinkExternalID backfills the organization id after a successful remote
// create. Guarded the same way identity linking is.
func (r *Repository) LinkExternalID(ctx context.Context, id int64, externalID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE companies SET external_id = $2, updated_at = NOW() WHERE id = $1 AND external_id IS NULL`, id, externalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		current, ok, err := r.ExternalOrgID(ctx, id)
		if err != nil {
			return err
		}
		if ok && current == externalID {
			return nil
		}
		return shared.ErrExternalIDLinked
	}
	return nil
}

func (r *Repository) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanCompany(row pgx.Row) (Company, error) {
	var company Company
	var externalID pgtype.Text
	var modulesRaw []byte
	var createdAt, updatedAt pgtype.Timestamptz
	if err := row.Scan(&company.ID, &externalID, &company.Name, &modulesRaw,
		&company.IsActive, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Company{}, shared.ErrNotFound
		}
		return Company{}, err
	}
	if externalID.Valid {
		company.ExternalID = shared.LinkExternalID(externalID.String)
	}
	if len(modulesRaw) > 0 {
		if err := json.Unmarshal(modulesRaw, &company.EnabledModules); err != nil {
			return Company{}, fmt.Errorf("decode enabled_modules: %w", err)
		}
	}
	if createdAt.Valid {
		company.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		company.UpdatedAt = updatedAt.Time
	}
	return company, nil
}

func modulesJSON(modules []string) []byte {
	if modules == nil {
		modules = []string{}
	}
	raw, _ := json.Marshal(modules)
	return raw
}
