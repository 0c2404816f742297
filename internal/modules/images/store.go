// README: Image store; inline data-URL payloads are persisted and replaced by a reference id.
package images

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"shinua/internal/types"
)

var ErrNotFound = errors.New("image not found")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Save persists an inline image payload and returns its reference id.
func (s *Store) Save(ctx context.Context, payload string) (string, error) {
	id := types.NewID()
	_, err := s.db.Exec(ctx, `
        INSERT INTO task_images (id, image, created_at)
        VALUES ($1, $2, $3)`,
		string(id), payload, time.Now(),
	)
	if err != nil {
		return "", err
	}
	return string(id), nil
}

func (s *Store) Get(ctx context.Context, id string) (string, error) {
	row := s.db.QueryRow(ctx, `SELECT image FROM task_images WHERE id = $1`, id)
	var payload string
	err := row.Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return payload, nil
}
