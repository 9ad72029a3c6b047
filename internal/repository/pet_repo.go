// Package repository implements the database access layer for the Cloud SQL
// Connection service. Repositories are stateless and operate on a pool
// handed in by the caller, so they can be built per request over the lazily
// initialized pool.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/AlvarDev/Cloud-SQL-Connection/internal/database"
	"github.com/AlvarDev/Cloud-SQL-Connection/internal/models"
)

// PetRepository handles pet-related database operations.
type PetRepository struct {
	db database.DBInterface
}

// NewPetRepository creates a repository over an established pool.
func NewPetRepository(db database.DBInterface) *PetRepository {
	return &PetRepository{db: db}
}

// List retrieves all pets.
//
// The query has no ORDER BY: rows come back in whatever order storage
// returns them, which is not a guaranteed contract. An empty table yields
// an empty (non-nil) slice so the handler serializes it as [].
//
// Failure modes:
//   - database.ErrPoolExhausted when no connection is free within the
//     acquire timeout (passed through from the pool layer)
//   - database.ErrQueryFailed for any storage-side error
//
// The connection backing the row set is released on every exit path.
func (r *PetRepository) List(ctx context.Context) ([]models.Pet, error) {
	query := `SELECT id, name FROM pets`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		if errors.Is(err, database.ErrPoolExhausted) {
			return nil, err
		}
		return nil, fmt.Errorf("querying pets: %w: %w", database.ErrQueryFailed, err)
	}
	defer rows.Close()

	pets := make([]models.Pet, 0)
	for rows.Next() {
		var pet models.Pet
		if err := rows.Scan(&pet.ID, &pet.Name); err != nil {
			return nil, fmt.Errorf("scanning pet row: %w: %w", database.ErrQueryFailed, err)
		}
		pets = append(pets, pet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading pet rows: %w: %w", database.ErrQueryFailed, err)
	}

	return pets, nil
}
