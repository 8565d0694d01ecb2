package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/laptop-admin/internal/domain/auth"
)

var _ auth.AdminDirectory = (*AdminRepository)(nil)

// AdminRepository implements auth.AdminDirectory backed by PostgreSQL.
type AdminRepository struct {
	pool  *pgxpool.Pool
	table string
}

// NewAdminRepository returns an AdminRepository on table (default "admins").
func NewAdminRepository(pool *pgxpool.Pool, table string) *AdminRepository {
	if table == "" {
		table = "admins"
	}
	return &AdminRepository{pool: pool, table: table}
}

// IsAdmin reports whether principalID has an admins row. Principal ids that
// are not UUIDs are never admins.
func (r *AdminRepository) IsAdmin(ctx context.Context, principalID string) (bool, error) {
	uid, err := uuid.Parse(principalID)
	if err != nil {
		return false, nil
	}

	query := fmt.Sprintf(
		"SELECT EXISTS (SELECT 1 FROM %s WHERE auth_uid = $1)",
		pgx.Identifier{r.table}.Sanitize(),
	)
	var ok bool
	if err := r.pool.QueryRow(ctx, query, uid).Scan(&ok); err != nil {
		return false, upstream("query admins", err)
	}
	return ok, nil
}

// Grant adds uid to the admins table. It reports false when uid already was
// an admin.
func (r *AdminRepository) Grant(ctx context.Context, uid uuid.UUID) (bool, error) {
	query := fmt.Sprintf(
		"INSERT INTO %s (auth_uid) VALUES ($1) ON CONFLICT (auth_uid) DO NOTHING",
		pgx.Identifier{r.table}.Sanitize(),
	)
	tag, err := r.pool.Exec(ctx, query, uid)
	if err != nil {
		return false, fmt.Errorf("granting admin %s: %w", uid, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Revoke removes uid from the admins table. It reports false when uid was
// not an admin.
func (r *AdminRepository) Revoke(ctx context.Context, uid uuid.UUID) (bool, error) {
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE auth_uid = $1",
		pgx.Identifier{r.table}.Sanitize(),
	)
	tag, err := r.pool.Exec(ctx, query, uid)
	if err != nil {
		return false, fmt.Errorf("revoking admin %s: %w", uid, err)
	}
	return tag.RowsAffected() == 1, nil
}
