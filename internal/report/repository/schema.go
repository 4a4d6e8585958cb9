package repository

import (
	_ "embed"
	"errors"
)

// Schema creates every table the report service reads or writes
//
//go:embed schema.sql
var Schema string

// ErrNotDraft is returned by Finalize when the report was already
// finalized by another run
var ErrNotDraft = errors.New("report is not a draft")
