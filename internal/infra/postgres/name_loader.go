package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ErrStudentNotFound is returned when the students table has no row for the id.
var ErrStudentNotFound = errors.New("student not found")

// NameLoader reads display names from the students table.
type NameLoader struct {
	pool *pgxpool.Pool
}

func NewNameLoader(pool *pgxpool.Pool) *NameLoader {
	return &NameLoader{pool: pool}
}

func (l *NameLoader) LoadName(ctx context.Context, studentID string) (string, error) {
	var name string
	err := l.pool.QueryRow(ctx, `SELECT display_name FROM students WHERE id=$1`, studentID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrStudentNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load name: %w", err)
	}
	return name, nil
}
