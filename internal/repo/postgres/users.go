package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/authcore/internal/domain/user"
	"github.com/geocoder89/authcore/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgxpool.Pool and by pgxmock pools in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const uniqueViolation = "23505"

// the hash column is only read when the caller asks for it
const selectUser = `SELECT id, name, email,
		CASE WHEN $2::boolean THEN password_hash ELSE '' END,
		role, password_changed_at, password_reset_token_hash, password_reset_expires_at,
		created_at, updated_at
	FROM users`

type UsersRepo struct {
	db     Querier
	hasher user.Hasher
	prom   *observability.Prom
	now    func() time.Time
}

func NewUsersRepo(db Querier, hasher user.Hasher, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{db: db, hasher: hasher, prom: prom, now: time.Now}
}

func (r *UsersRepo) Create(ctx context.Context, in user.NewUser) (user.User, error) {
	in.Email = user.NormalizeEmail(in.Email)
	if in.Role == "" {
		in.Role = user.RoleUser
	}

	err := user.Validate(in)
	if err != nil {
		return user.User{}, err
	}

	hash, err := r.hasher.Hash(in.Password)
	if err != nil {
		return user.User{}, err
	}

	now := r.now().UTC()
	u := user.User{
		ID:                uuid.NewString(),
		Name:              in.Name,
		Email:             in.Email,
		Role:              in.Role,
		PasswordChangedAt: in.PasswordChangedAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = r.observe("users.create", func() error {
		_, err := r.db.Exec(ctx,
			`INSERT INTO users (id, name, email, password_hash, role, password_changed_at, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			u.ID, u.Name, u.Email, hash, u.Role, u.PasswordChangedAt, u.CreatedAt, u.UpdatedAt,
		)
		return err
	})

	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.DuplicateEmail()
		}
		return user.User{}, err
	}

	return u, nil
}

func (r *UsersRepo) FindByEmail(ctx context.Context, email string, includeSecret bool) (user.User, error) {
	return r.findOne(ctx, "users.find_by_email", selectUser+` WHERE email = $1`, user.NormalizeEmail(email), includeSecret)
}

func (r *UsersRepo) FindByID(ctx context.Context, id string, includeSecret bool) (user.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return user.User{}, user.ErrNotFound
	}

	return r.findOne(ctx, "users.find_by_id", selectUser+` WHERE id = $1`, id, includeSecret)
}

func (r *UsersRepo) FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (user.User, error) {
	return r.findOne(ctx, "users.find_by_reset_token",
		selectUser+` WHERE password_reset_token_hash = $1 AND password_reset_expires_at > $3`,
		tokenHash, false, now.UTC(),
	)
}

// Save writes the mutable fields of u. With validate set the profile fields and
// any staged password are checked first. An empty PasswordHash keeps the stored one.
func (r *UsersRepo) Save(ctx context.Context, u *user.User, validate bool) error {
	u.Email = user.NormalizeEmail(u.Email)

	if validate {
		err := user.ValidateRecord(*u)
		if err != nil {
			return err
		}
	}

	now := r.now().UTC()

	// u is only updated once the row is written
	applied := *u
	err := applied.ApplyPendingPassword(r.hasher, now, validate)
	if err != nil {
		return err
	}

	var tag pgconn.CommandTag
	err = r.observe("users.save", func() error {
		var err error
		tag, err = r.db.Exec(ctx, `
			UPDATE users
			SET name = $2,
				email = $3,
				password_hash = COALESCE(NULLIF($4, ''), password_hash),
				role = $5,
				password_changed_at = $6,
				password_reset_token_hash = $7,
				password_reset_expires_at = $8,
				updated_at = $9
			WHERE id = $1`,
			applied.ID, applied.Name, applied.Email, applied.PasswordHash, applied.Role, applied.PasswordChangedAt,
			applied.PasswordResetTokenHash, applied.PasswordResetExpiresAt, now,
		)
		return err
	})

	if err != nil {
		if isUniqueViolation(err) {
			return user.DuplicateEmail()
		}
		return err
	}

	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}

	applied.UpdatedAt = now
	*u = applied

	return nil
}

func (r *UsersRepo) ClearExpiredResets(ctx context.Context, now time.Time) (int64, error) {
	var tag pgconn.CommandTag

	err := r.observe("users.clear_expired_resets", func() error {
		var err error
		tag, err = r.db.Exec(ctx, `
			UPDATE users
			SET password_reset_token_hash = NULL, password_reset_expires_at = NULL
			WHERE password_reset_expires_at IS NOT NULL AND password_reset_expires_at <= $1`,
			now.UTC(),
		)
		return err
	})

	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

func (r *UsersRepo) Delete(ctx context.Context, id string) error {
	var tag pgconn.CommandTag

	err := r.observe("users.delete", func() error {
		var err error
		tag, err = r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		return err
	})

	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}

	return nil
}

func (r *UsersRepo) findOne(ctx context.Context, op, query string, key string, includeSecret bool, extra ...any) (user.User, error) {
	var u user.User

	args := append([]any{key, includeSecret}, extra...)

	err := r.observe(op, func() error {
		return r.db.QueryRow(ctx, query, args...).Scan(
			&u.ID,
			&u.Name,
			&u.Email,
			&u.PasswordHash,
			&u.Role,
			&u.PasswordChangedAt,
			&u.PasswordResetTokenHash,
			&u.PasswordResetExpiresAt,
			&u.CreatedAt,
			&u.UpdatedAt,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}

		return user.User{}, err
	}

	return u, nil
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	if r.prom == nil {
		return fn()
	}

	return r.prom.ObserveDB(op, fn)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
