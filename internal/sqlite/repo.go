// Package sqlite implements the persistence layer on top of a sqlite
// database through sqlx.
package sqlite

import (
	"github.com/jmoiron/sqlx"

	"github.com/calmctl/imagefeed/internal/imagefeed"
)

// Ensure Repo implements the Repository interface
var _ imagefeed.Repository = (*Repo)(nil)

type Repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repo {
	return Repo{db: db}
}
