// README: User store backed by PostgreSQL.
package user

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"shinua/internal/types"
)

var ErrNotFound = errors.New("user not found")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const userColumns = "id, phone, name, dispatcher, trainee, admin, deleted, created_at"

func (s *Store) Get(ctx context.Context, id types.ID) (*User, error) {
	row := s.db.QueryRow(ctx, `
        SELECT `+userColumns+`
        FROM users
        WHERE id = $1`, string(id),
	)
	return scanUser(row)
}

// FindByPhone returns the first non-deleted user with the given phone.
func (s *Store) FindByPhone(ctx context.Context, phone string) (*User, error) {
	row := s.db.QueryRow(ctx, `
        SELECT `+userColumns+`
        FROM users
        WHERE phone = $1 AND NOT deleted
        LIMIT 1`, phone,
	)
	return scanUser(row)
}

func (s *Store) Exists(ctx context.Context, id types.ID) (bool, error) {
	row := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, string(id))
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ListDispatchers returns every non-deleted user flagged as dispatcher.
func (s *Store) ListDispatchers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+userColumns+`
        FROM users
        WHERE dispatcher AND NOT deleted`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) Insert(ctx context.Context, u *User) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO users (id, phone, name, dispatcher, trainee, admin, deleted, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(u.ID), u.Phone, u.Name, u.Dispatcher, u.Trainee, u.Admin, u.Deleted, u.CreatedAt,
	)
	return err
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Phone, &u.Name, &u.Dispatcher, &u.Trainee, &u.Admin, &u.Deleted, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
