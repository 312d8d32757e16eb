package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"

	"github.com/lib/pq"
)

// ErrTokenUnknown reports a bearer token with no matching user.
var ErrTokenUnknown = errors.New("unknown token")

type PostgresAuthRepo struct {
	db *sql.DB
}

func NewPostgresAuthRepo(db *sql.DB) *PostgresAuthRepo {
	return &PostgresAuthRepo{db: db}
}

var _ AuthRepository = (*PostgresAuthRepo)(nil)

// HashToken stores only token digests so a dumped users table does not
// leak credentials.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (r *PostgresAuthRepo) GetUserByToken(ctx context.Context, token string) (*AuthUser, error) {
	var (
		u         AuthUser
		tenantID  sql.NullString
		tenantIDs []string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT uid, role, tenant_id::text, tenant_ids
		FROM users
		WHERE token_hash = $1 AND status = 'active'`,
		HashToken(token)).Scan(&u.UID, &u.Role, &tenantID, pq.Array(&tenantIDs))
	if err == sql.ErrNoRows {
		return nil, ErrTokenUnknown
	}
	if err != nil {
		return nil, err
	}
	if tenantID.Valid {
		u.TenantID = tenantID.String
	}
	u.TenantIDs = tenantIDs
	return &u, nil
}
