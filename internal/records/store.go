// Package records provides domain models and the persistence interface for
// observation record ingestion.
//
// This package defines the Store interface which represents what the domain
// needs for record persistence, following the Dependency Inversion Principle.
// Concrete implementations (PostgreSQL) live in the internal/storage package.
package records

import (
	"context"

	"github.com/GEMINI-Breeding/gemini-engine/internal/registry"
)

// Store defines the interface for observation record persistence.
//
// Implementations must provide the full provision/validate/resolve pipeline:
//   - Auto-provisioning: missing datasets, plots, and producer↔dataset /
//     experiment↔dataset associations are created on first use, never the
//     experiment/season/site hierarchy itself.
//   - Validity enforcement: the (producer, dataset, experiment, season, site)
//     tuple must appear in the kind's validity view after provisioning.
//   - Name resolution: every name resolves to its internal identifier inside
//     the insert transaction; resolution failure rejects the insert.
//   - Idempotent-or-error: concurrent first use of the same dataset, plot, or
//     association yields one row, never duplicates.
type Store interface {
	// InsertRecord runs the full pipeline for a single record inside one
	// logical insert operation.
	//
	// Error contract:
	//   - ErrInvalidCombination: the tuple is absent from the validity view
	//     after provisioning. Provisioning performed before the check (dataset
	//     creation, association rows) persists; the record does not.
	//   - ErrPlotNotFound: the (experiment, season, site) prefix is not a
	//     registered combination, so no plot can be provisioned.
	//   - ErrNameNotFound: a supplied name does not resolve to an entity.
	//   - ErrDuplicateRecord: the full composite key already exists.
	InsertRecord(ctx context.Context, in *Insert) (*InsertResult, error)

	// InsertRecords inserts a batch with per-record results.
	//
	// Inserts sharing a combination key are validated and resolved once, then
	// bulk-inserted; a failed record never aborts the rest of the batch. The
	// returned slice is index-aligned with the input.
	InsertRecords(ctx context.Context, ins []*Insert) ([]*InsertResult, error)

	// QueryRecords returns the denormalized read view for a kind, filtered by
	// any combination of names without further joins.
	QueryRecords(ctx context.Context, kind registry.Kind, filter *Filter, page *Pagination) (*QueryResult, error)

	// ListCombinations returns the currently legal combinations for a kind, as
	// computed by its validity view. This is the public read surface callers
	// use to discover legal tuples before attempting an insert.
	ListCombinations(ctx context.Context, kind registry.Kind) ([]Combination, error)

	// HealthCheck verifies the storage backend is ready to serve requests.
	HealthCheck(ctx context.Context) error
}

// InsertResult represents the outcome for a single record in an insert
// operation. Batch callers receive one result per input record so partial
// success can be reported without aborting the batch.
type InsertResult struct {
	// Insert is the request that was processed.
	Insert *Insert

	// Inserted is true when a new row was written.
	Inserted bool

	// Duplicate is true when the composite key already existed. Duplicate
	// direct inserts are rejections (Err is ErrDuplicateRecord), unlike the
	// ensure_* provisioning calls where an existing row is success.
	Duplicate bool

	// RecordID identifies the written row when Inserted is true.
	RecordID string

	// Err is the per-record failure, nil on success.
	Err error
}
