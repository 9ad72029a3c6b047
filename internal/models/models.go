// Package models defines the domain entities for the Cloud SQL Connection
// service. Models are mapped to PostgreSQL tables and serialized as JSON in
// API responses.
package models

// Pet represents one row of the pets table.
//
// Database Table: pets
type Pet struct {
	ID   int    `db:"id" json:"id"`     // Primary key, auto-increment
	Name string `db:"name" json:"name"` // Pet display name
}
