package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meeraPraveen/RMTLogistics-sub000/internal/platform/db"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/shared"
)

const userColumns = `id, external_id, email, name, role, is_active, company_id, created_at, updated_at, last_login`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get fetches a user by id.
func (r *Repository) Get(ctx context.Context, id int64) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM identities WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail fetches a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM identities WHERE email = $1`, normalizeEmail(email))
	return scanUser(row)
}

// List returns all users ordered by id.
func (r *Repository) List(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM identities ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// Create inserts a new identity. The external id column starts NULL; linking
// happens only after a successful remote create.
func (r *Repository) Create(ctx context.Context, email, name string, role *string, companyID *int64) (User, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO identities (external_id, email, name, role, is_active, company_id, created_at, updated_at)
		VALUES (NULL, $1, $2, $3, TRUE, $4, NOW(), NOW())
		RETURNING `+userColumns,
		normalizeEmail(email), name, role, companyID)
	user, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, shared.ErrEmailTaken
		}
		return User{}, err
	}
	return user, nil
}

// CreateLinked inserts an identity that already carries a real provider id,
// used for just-in-time provisioning after a first successful login.
func (r *Repository) CreateLinked(ctx context.Context, externalID, email, name string) (User, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO identities (external_id, email, name, role, is_active, created_at, updated_at, last_login)
		VALUES ($1, $2, $3, NULL, TRUE, NOW(), NOW(), NOW())
		RETURNING `+userColumns,
		externalID, normalizeEmail(email), name)
	user, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, shared.ErrEmailTaken
		}
		return User{}, err
	}
	return user, nil
}

// UpdateName sets the display name.
func (r *Repository) UpdateName(ctx context.Context, id int64, name string) error {
	return r.exec(ctx, `UPDATE identities SET name = $2, updated_at = NOW() WHERE id = $1`, id, name)
}

// UpdateRole sets the role; nil clears it, removing token eligibility.
func (r *Repository) UpdateRole(ctx context.Context, id int64, role *string) error {
	return r.exec(ctx, `UPDATE identities SET role = $2, updated_at = NOW() WHERE id = $1`, id, role)
}

// SetActive flips the active flag.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	return r.exec(ctx, `UPDATE identities SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
}

// SetCompany reassigns the company and returns the previous assignment. The
// read-modify-write runs inside one transaction with the row locked so two
// concurrent reassignments cannot interleave their membership moves.
func (r *Repository) SetCompany(ctx context.Context, id int64, companyID *int64) (previous *int64, err error) {
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var current *int64
		if err := tx.QueryRow(ctx, `SELECT company_id FROM identities WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return shared.ErrNotFound
			}
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE identities SET company_id = $2, updated_at = NOW() WHERE id = $1`, id, companyID); err != nil {
			return err
		}
		previous = current
		return nil
	})
	return previous, err
}

// Delete removes the identity row.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	return r.exec(ctx, `DELETE FROM identities WHERE id = $1`, id)
}

// LinkExternalID backfills the provider id after the first successful remote
// create. Guarded: a row that is already linked is left untouched, so a
// duplicate replay cannot overwrite a real id.
func (r *Repository) LinkExternalID(ctx context.Context, id int64, externalID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE identities SET external_id = $2, updated_at = NOW() WHERE id = $1 AND external_id IS NULL`, id, externalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		existing, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if existing.ExternalID.String() == externalID {
			return nil
		}
		return shared.ErrExternalIDLinked
	}
	return nil
}

// RelinkExternalID overwrites the provider id unconditionally. Operator
// surface only; the normal path never changes a linked id.
func (r *Repository) RelinkExternalID(ctx context.Context, id int64, externalID string) error {
	return r.exec(ctx, `UPDATE identities SET external_id = $2, updated_at = NOW() WHERE id = $1`, id, externalID)
}

// TouchLogin stamps last_login.
func (r *Repository) TouchLogin(ctx context.Context, id int64) error {
	return r.exec(ctx, `UPDATE identities SET last_login = NOW() WHERE id = $1`, id)
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

func scanUser(row pgx.Row) (User, error) {
	var user User
	var externalID pgtype.Text
	var createdAt, updatedAt, lastLogin pgtype.Timestamptz
	if err := row.Scan(&user.ID, &externalID, &user.Email, &user.Name, &user.Role,
		&user.IsActive, &user.CompanyID, &createdAt, &updatedAt, &lastLogin); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		return User{}, err
	}
	if externalID.Valid {
		user.ExternalID = shared.LinkExternalID(externalID.String)
	}
	if createdAt.Valid {
		user.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		user.UpdatedAt = updatedAt.Time
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLogin = &t
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
