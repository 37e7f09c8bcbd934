package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check to verify that PostgresStore implements FlagRepository.
// If the interface changes and the struct doesn't, the build fails here.
var _ FlagRepository = (*PostgresStore)(nil)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

const flagColumns = `id, name, description, enabled, rollout_percentage, target_roles, target_users,
	metadata, created_by, created_at, updated_at, version`

// PostgresStore is the implementation of FlagRepository backed by PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new repository instance with the given connection pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &PostgresStore{db: db}
}

// CreateFlag inserts a new flag into the database.
func (s *PostgresStore) CreateFlag(ctx context.Context, f *Flag) error {
	f.normalize()

	query := `
		INSERT INTO flags (` + flagColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
		RETURNING version
	`

	err := s.db.QueryRow(ctx, query,
		f.ID,
		f.Name,
		f.Description,
		f.Enabled,
		f.RolloutPercentage,
		f.TargetRoles,
		f.TargetUsers,
		f.Metadata,
		f.CreatedBy,
		f.CreatedAt,
		f.UpdatedAt,
	).Scan(&f.Version)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %q", ErrDuplicateName, f.Name)
		}
		return fmt.Errorf("failed to insert flag: %w", err)
	}

	return nil
}

// UpdateFlag performs a compare-and-swap on the version column.
// The WHERE clause makes the check and the write a single atomic statement,
// so two writers holding the same version cannot both succeed.
func (s *PostgresStore) UpdateFlag(ctx context.Context, f *Flag, expectedVersion int64) error {
	if _, err := uuid.Parse(f.ID); err != nil {
		return fmt.Errorf("%w: id %q", ErrNotFound, f.ID)
	}
	f.normalize()

	query := `
		UPDATE flags
		SET name = $3,
		    description = $4,
		    enabled = $5,
		    rollout_percentage = $6,
		    target_roles = $7,
		    target_users = $8,
		    metadata = $9,
		    updated_at = $10,
		    version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version
	`

	err := s.db.QueryRow(ctx, query,
		f.ID,
		expectedVersion,
		f.Name,
		f.Description,
		f.Enabled,
		f.RolloutPercentage,
		f.TargetRoles,
		f.TargetUsers,
		f.Metadata,
		f.UpdatedAt,
	).Scan(&f.Version)

	if err == nil {
		return nil
	}

	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %q", ErrDuplicateName, f.Name)
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to update flag: %w", err)
	}

	// Zero rows: either the flag is gone or someone else moved the version.
	var current int64
	err = s.db.QueryRow(ctx, `SELECT version FROM flags WHERE id = $1`, f.ID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: id %q", ErrNotFound, f.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to inspect flag version: %w", err)
	}

	return fmt.Errorf("%w: id %q expected version %d, found %d", ErrVersionConflict, f.ID, expectedVersion, current)
}

// DeleteFlag removes the row permanently.
func (s *PostgresStore) DeleteFlag(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: id %q", ErrNotFound, id)
	}

	tag, err := s.db.Exec(ctx, `DELETE FROM flags WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %q", ErrNotFound, id)
	}
	return nil
}

// GetFlag retrieves a flag by id.
func (s *PostgresStore) GetFlag(ctx context.Context, id string) (*Flag, error) {
	// Non-UUID ids can never exist; short-circuit instead of letting
	// PostgreSQL reject the cast.
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: id %q", ErrNotFound, id)
	}

	query := `SELECT ` + flagColumns + ` FROM flags WHERE id = $1`
	f, err := scanFlag(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flag: %w", err)
	}
	return f, nil
}

// GetFlagByName retrieves a flag by its unique name.
func (s *PostgresStore) GetFlagByName(ctx context.Context, name string) (*Flag, error) {
	query := `SELECT ` + flagColumns + ` FROM flags WHERE name = $1`
	f, err := scanFlag(s.db.QueryRow(ctx, query, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: name %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flag by name: %w", err)
	}
	return f, nil
}

// ListAllFlags retrieves every flag without pagination.
// It is used to build the in-memory evaluation snapshot.
func (s *PostgresStore) ListAllFlags(ctx context.Context) ([]*Flag, error) {
	query := `SELECT ` + flagColumns + ` FROM flags ORDER BY created_at ASC, id ASC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list flags: %w", err)
	}
	// Ensure rows are closed to prevent connection leaks in the pool.
	defer rows.Close()

	flags := make([]*Flag, 0)
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flag row: %w", err)
		}
		flags = append(flags, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return flags, nil
}

func scanFlag(row pgx.Row) (*Flag, error) {
	var f Flag
	if err := row.Scan(
		&f.ID,
		&f.Name,
		&f.Description,
		&f.Enabled,
		&f.RolloutPercentage,
		&f.TargetRoles,
		&f.TargetUsers,
		&f.Metadata,
		&f.CreatedBy,
		&f.CreatedAt,
		&f.UpdatedAt,
		&f.Version,
	); err != nil {
		return nil, err
	}
	f.normalize()
	return &f, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
