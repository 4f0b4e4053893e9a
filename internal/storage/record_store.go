package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/GEMINI-Breeding/gemini-engine/internal/config"
	"github.com/GEMINI-Breeding/gemini-engine/internal/records"
	"github.com/GEMINI-Breeding/gemini-engine/internal/registry"
)

// Sentinel errors for record storage operations.
var (
	// ErrRecordStoreFailed is returned when a record operation fails for
	// infrastructure reasons rather than a domain rejection.
	ErrRecordStoreFailed = errors.New("record storage failed")

	// RecordStore implements records.Store.
	_ records.Store = (*RecordStore)(nil)
)

// queryer is the common query surface of *sql.Tx and *Connection, so the
// provisioning and validity helpers run identically inside and outside a
// transaction.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// AliasResolver maps caller-supplied producer and dataset names onto their
// canonical registry names before the pipeline runs. The identity resolver
// is the default.
type AliasResolver interface {
	ResolveProducer(name string) string
	ResolveDataset(name string) string
}

// RecordStoreOption configures optional RecordStore behavior.
type RecordStoreOption func(*RecordStore)

// WithAliasResolver installs an alias resolver applied to producer and
// dataset names on every insert.
func WithAliasResolver(r AliasResolver) RecordStoreOption {
	return func(s *RecordStore) {
		s.aliases = r
	}
}

// RecordStore implements records.Store with a PostgreSQL backend.
//
// Inserts run the provision/validate/resolve pipeline in two phases:
// provisioning (dataset creation and association rows) commits in its own
// transaction first, then the legality check, plot provisioning, and the
// record write execute as individual statements. The check is a read, plot
// provisioning is an idempotent get-or-create, and the record write is
// guarded by the composite uniqueness constraint, so a failure between
// statements leaves nothing to roll back. A rejected record leaves its
// provisioned dataset and associations in place; repeating the insert after
// registering the missing hierarchy succeeds without re-provisioning.
type RecordStore struct {
	conn           *Connection
	logger         *slog.Logger
	validator      *records.Validator
	aliases        AliasResolver
	provisionLocks *keyMutex
}

// NewRecordStore creates a PostgreSQL-backed record store.
// Returns ErrNoDatabaseConnection if conn is nil.
func NewRecordStore(conn *Connection, opts ...RecordStoreOption) (*RecordStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	s := &RecordStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
		validator:      records.NewValidator(),
		provisionLocks: newKeyMutex(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// InsertRecord runs the full pipeline for one record.
func (s *RecordStore) InsertRecord(ctx context.Context, in *records.Insert) (*records.InsertResult, error) {
	res := &records.InsertResult{Insert: in}

	if err := s.validator.ValidateInsert(in); err != nil {
		res.Err = err

		return res, err
	}

	in = s.resolveAliases(in)

	resolved, err := s.provisionAndCheck(ctx, in)
	if err != nil {
		res.Err = err

		return res, err
	}

	if err := s.insertResolved(ctx, s.conn, in, resolved, res); err != nil {
		return res, err
	}

	s.logger.DebugContext(ctx, "record inserted",
		slog.String("kind", in.Kind.String()),
		slog.String("record_id", res.RecordID),
		slog.String("dataset", in.DatasetName))

	return res, nil
}

// InsertRecords inserts a batch with per-record results. Inserts sharing a
// combination key are provisioned, checked, and resolved once; each group is
// bulk-copied, falling back to row-at-a-time on failure so one bad record
// never sinks its group.
func (s *RecordStore) InsertRecords(ctx context.Context, ins []*records.Insert) ([]*records.InsertResult, error) {
	results := make([]*records.InsertResult, len(ins))
	groups := make(map[string][]int)
	order := make([]string, 0)

	for i, in := range ins {
		results[i] = &records.InsertResult{Insert: in}

		if err := s.validator.ValidateInsert(in); err != nil {
			results[i].Err = err

			continue
		}

		key := in.CombinationKey()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}

		groups[key] = append(groups[key], i)
	}

	for _, key := range order {
		idxs := groups[key]
		in := s.resolveAliases(ins[idxs[0]])

		resolved, err := s.provisionAndCheck(ctx, in)
		if err != nil {
			for _, i := range idxs {
				results[i].Err = err
			}

			continue
		}

		if err := s.copyGroup(ctx, idxs, ins, resolved); err == nil {
			for _, i := range idxs {
				results[i].Inserted = true
			}

			continue
		}

		// Bulk copy cannot report which row failed; redo the group one row at
		// a time for per-record outcomes.
		for _, i := range idxs {
			_ = s.insertResolved(ctx, s.conn, s.resolveAliases(ins[i]), resolved, results[i])
		}
	}

	return results, nil
}

// resolveAliases returns a copy of the insert with producer and dataset names
// mapped through the configured resolver. The caller's insert is never
// mutated.
func (s *RecordStore) resolveAliases(in *records.Insert) *records.Insert {
	if s.aliases == nil {
		return in
	}

	out := *in
	out.ProducerName = s.aliases.ResolveProducer(in.ProducerName)
	out.DatasetName = s.aliases.ResolveDataset(in.DatasetName)

	return &out
}

// provisionAndCheck runs the provisioning phase in its own committed
// transaction, then the legality check and plot provisioning. Provisioned
// rows persist even when the check rejects the insert.
func (s *RecordStore) provisionAndCheck(ctx context.Context, in *records.Insert) (*resolvedCombination, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin provisioning: %w", ErrRecordStoreFailed, err)
	}

	experimentID, err := s.lookupExperimentID(ctx, tx, in.ExperimentName)
	if err != nil {
		_ = tx.Rollback()

		return nil, err
	}

	var producerID uuid.UUID

	if in.Kind.HasProducer() {
		producerID, err = s.lookupProducerID(ctx, tx, in.Kind, in.ProducerName)
		if err != nil {
			_ = tx.Rollback()

			return nil, err
		}
	}

	datasetID, err := s.ensureDataset(ctx, tx, in.DatasetName, in.DatasetKind(), in.CollectionDate, experimentID)
	if err != nil {
		_ = tx.Rollback()

		return nil, err
	}

	if in.Kind.HasProducer() {
		if err := s.ensureProducerDatasetLink(ctx, tx, in.Kind, producerID, datasetID); err != nil {
			_ = tx.Rollback()

			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit provisioning: %w", ErrRecordStoreFailed, err)
	}

	resolved, err := s.checkCombination(ctx, s.conn, in)
	if err != nil {
		return nil, err
	}

	return resolved, nil
}

// insertResolved provisions the plot if the kind requires one, then writes
// the record row and fills in the result. The composite uniqueness constraint
// rejects exact duplicates; duplicates are reported on the result, not
// treated as infrastructure failures.
func (s *RecordStore) insertResolved(
	ctx context.Context,
	q queryer,
	in *records.Insert,
	resolved *resolvedCombination,
	res *records.InsertResult,
) error {
	ks, err := schemaFor(in.Kind)
	if err != nil {
		res.Err = err

		return err
	}

	var plotID uuid.NullUUID

	if ks.plotScoped {
		id, err := s.ensurePlot(ctx, q, resolved.experimentID, resolved.seasonID, resolved.siteID, in.Plot)
		if err != nil {
			res.Err = err

			return err
		}

		plotID = uuid.NullUUID{UUID: id, Valid: true}
	}

	query, args, err := s.buildInsert(ks, in, resolved, plotID)
	if err != nil {
		res.Err = err

		return err
	}

	var recordID uuid.UUID

	err = q.QueryRowContext(ctx, query, args...).Scan(&recordID)
	if err != nil {
		if isUniqueViolation(err) {
			res.Duplicate = true
			res.Err = fmt.Errorf("%w: %s", records.ErrDuplicateRecord, in.CombinationKey())

			return res.Err
		}

		res.Err = fmt.Errorf("%w: insert %s record: %w", ErrRecordStoreFailed, in.Kind, err)

		return res.Err
	}

	res.Inserted = true
	res.RecordID = recordID.String()

	return nil
}

// buildInsert assembles the kind-specific INSERT from the schema descriptor.
// Column sets differ across kinds (producer columns, plot columns, payload
// type), so the statement is built column by column.
func (s *RecordStore) buildInsert(
	ks kindSchema,
	in *records.Insert,
	resolved *resolvedCombination,
	plotID uuid.NullUUID,
) (string, []interface{}, error) {
	cols := []string{"ts", "collection_date"}
	args := []interface{}{in.Timestamp, collectionDateOf(in)}

	if in.Kind.HasProducer() {
		cols = append(cols, ks.producerIDCol, ks.producerNameCol)
		args = append(args, resolved.producerID, in.ProducerName)
	}

	cols = append(cols,
		"dataset_id", "dataset_name",
		"experiment_id", "experiment_name",
		"season_id", "season_name",
		"site_id", "site_name")
	args = append(args,
		resolved.datasetID, in.DatasetName,
		resolved.experimentID, in.ExperimentName,
		resolved.seasonID, in.SeasonName,
		resolved.siteID, in.SiteName)

	if ks.plotScoped {
		cols = append(cols, "plot_id", "plot_number", "plot_row_number", "plot_column_number")
		args = append(args, plotID, in.Plot.Number, in.Plot.RowNumber, in.Plot.ColumnNumber)
	}

	payload, err := payloadArg(in)
	if err != nil {
		return "", nil, err
	}

	infoJSON, err := marshalAttrs(in.RecordInfo)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrRecordStoreFailed, err)
	}

	cols = append(cols, ks.payloadCol, "record_file", "record_info")
	args = append(args, payload, in.RecordFile, infoJSON)

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		ks.recordTable, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	return query, args, nil
}

// copyGroup bulk-inserts one combination group with COPY. All rows share the
// resolved identifiers; only timestamps and payloads vary.
func (s *RecordStore) copyGroup(
	ctx context.Context,
	idxs []int,
	ins []*records.Insert,
	resolved *resolvedCombination,
) error {
	first := s.resolveAliases(ins[idxs[0]])

	ks, err := schemaFor(first.Kind)
	if err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin batch: %w", ErrRecordStoreFailed, err)
	}

	var plotID uuid.NullUUID

	if ks.plotScoped {
		id, err := s.ensurePlot(ctx, tx, resolved.experimentID, resolved.seasonID, resolved.siteID, first.Plot)
		if err != nil {
			_ = tx.Rollback()

			return err
		}

		plotID = uuid.NullUUID{UUID: id, Valid: true}
	}

	cols := []string{"ts", "collection_date"}
	if first.Kind.HasProducer() {
		cols = append(cols, ks.producerIDCol, ks.producerNameCol)
	}

	cols = append(cols,
		"dataset_id", "dataset_name",
		"experiment_id", "experiment_name",
		"season_id", "season_name",
		"site_id", "site_name")

	if ks.plotScoped {
		cols = append(cols, "plot_id", "plot_number", "plot_row_number", "plot_column_number")
	}

	cols = append(cols, ks.payloadCol, "record_file", "record_info")

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(ks.recordTable, cols...))
	if err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("%w: prepare copy: %w", ErrRecordStoreFailed, err)
	}

	for _, i := range idxs {
		in := s.resolveAliases(ins[i])

		args := []interface{}{in.Timestamp, collectionDateOf(in)}
		if in.Kind.HasProducer() {
			args = append(args, resolved.producerID, in.ProducerName)
		}

		args = append(args,
			resolved.datasetID, in.DatasetName,
			resolved.experimentID, in.ExperimentName,
			resolved.seasonID, in.SeasonName,
			resolved.siteID, in.SiteName)

		if ks.plotScoped {
			args = append(args, plotID, in.Plot.Number, in.Plot.RowNumber, in.Plot.ColumnNumber)
		}

		payload, err := payloadArg(in)
		if err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()

			return err
		}

		infoJSON, err := marshalAttrs(in.RecordInfo)
		if err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()

			return fmt.Errorf("%w: %w", ErrRecordStoreFailed, err)
		}

		args = append(args, payload, string(infoJSON))

		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()

			return fmt.Errorf("%w: copy row: %w", ErrRecordStoreFailed, err)
		}
	}

	// Flush the copy buffer.
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		_ = tx.Rollback()

		return fmt.Errorf("%w: flush copy: %w", ErrRecordStoreFailed, err)
	}

	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("%w: close copy: %w", ErrRecordStoreFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit batch: %w", ErrRecordStoreFailed, err)
	}

	return nil
}

// QueryRecords returns denormalized record rows for the kind, filtered by any
// combination of names. Results are ordered by timestamp.
func (s *RecordStore) QueryRecords(
	ctx context.Context,
	kind registry.Kind,
	filter *records.Filter,
	page *records.Pagination,
) (*records.QueryResult, error) {
	ks, err := schemaFor(kind)
	if err != nil {
		return nil, err
	}

	where, args := buildRecordFilter(ks, filter)

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, ks.recordTable, where)

	var total int
	if err := s.conn.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("%w: count records: %w", ErrRecordStoreFailed, err)
	}

	cols := []string{"id", "ts", "collection_date"}
	if kind.HasProducer() {
		cols = append(cols, ks.producerIDCol, ks.producerNameCol)
	}

	cols = append(cols,
		"dataset_id", "dataset_name",
		"experiment_id", "experiment_name",
		"season_id", "season_name",
		"site_id", "site_name")

	if ks.plotScoped {
		cols = append(cols, "plot_id", "plot_number", "plot_row_number", "plot_column_number")
	}

	cols = append(cols, ks.payloadCol, "record_file", "record_info", "created_at")

	limit, offset := pageBounds(page)
	args = append(args, limit, offset)

	query := fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY ts LIMIT $%d OFFSET $%d`,
		strings.Join(cols, ", "), ks.recordTable, where, len(args)-1, len(args))

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query records: %w", ErrRecordStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	out := &records.QueryResult{Total: total}

	for rows.Next() {
		rec, err := scanRecord(rows, kind, ks)
		if err != nil {
			return nil, err
		}

		out.Records = append(out.Records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: query records: %w", ErrRecordStoreFailed, err)
	}

	return out, nil
}

// HealthCheck verifies the storage backend is reachable.
func (s *RecordStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// collectionDateOf defaults a missing collection date to the record's
// timestamp date.
func collectionDateOf(in *records.Insert) time.Time {
	if in.CollectionDate.IsZero() {
		return in.Timestamp
	}

	return in.CollectionDate
}

// payloadArg returns the kind-appropriate payload value: the numeric trait
// value for traits, the structured payload as JSONB for every other kind.
func payloadArg(in *records.Insert) (interface{}, error) {
	if in.Kind == registry.KindTrait {
		return in.TraitValue, nil
	}

	data, err := marshalAttrs(in.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRecordStoreFailed, err)
	}

	return string(data), nil
}

// buildRecordFilter translates a Filter into a WHERE clause over the
// denormalized name columns.
func buildRecordFilter(ks kindSchema, filter *records.Filter) (string, []interface{}) {
	if filter == nil {
		return "", nil
	}

	var (
		clauses []string
		args    []interface{}
	)

	add := func(col, val string) {
		if val == "" {
			return
		}

		args = append(args, val)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if ks.producerNameCol != "" {
		add(ks.producerNameCol, filter.ProducerName)
	}

	add("dataset_name", filter.DatasetName)
	add("experiment_name", filter.ExperimentName)
	add("season_name", filter.SeasonName)
	add("site_name", filter.SiteName)

	if !filter.CollectedAfter.IsZero() {
		args = append(args, filter.CollectedAfter)
		clauses = append(clauses, fmt.Sprintf("collection_date >= $%d", len(args)))
	}

	if len(clauses) == 0 {
		return "", nil
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

const (
	defaultPageLimit = 1000
	maxPageLimit     = 10000
)

func pageBounds(page *records.Pagination) (limit, offset int) {
	limit = defaultPageLimit

	if page != nil {
		if page.Limit > 0 {
			limit = page.Limit
		}

		if limit > maxPageLimit {
			limit = maxPageLimit
		}

		if page.Offset > 0 {
			offset = page.Offset
		}
	}

	return limit, offset
}

// scanRecord reads one wide row into the unified Record type.
func scanRecord(rows *sql.Rows, kind registry.Kind, ks kindSchema) (*records.Record, error) {
	rec := records.Record{Kind: kind}

	var (
		payloadJSON []byte
		infoJSON    []byte
		plot        records.PlotCoordinates
	)

	dest := []interface{}{&rec.ID, &rec.Timestamp, &rec.CollectionDate}
	if kind.HasProducer() {
		dest = append(dest, &rec.ProducerID, &rec.ProducerName)
	}

	dest = append(dest,
		&rec.DatasetID, &rec.DatasetName,
		&rec.ExperimentID, &rec.ExperimentName,
		&rec.SeasonID, &rec.SeasonName,
		&rec.SiteID, &rec.SiteName)

	if ks.plotScoped {
		dest = append(dest, &rec.PlotID, &plot.Number, &plot.RowNumber, &plot.ColumnNumber)
	}

	if kind == registry.KindTrait {
		dest = append(dest, &rec.TraitValue)
	} else {
		dest = append(dest, &payloadJSON)
	}

	dest = append(dest, &rec.RecordFile, &infoJSON, &rec.CreatedAt)

	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("%w: scan record: %w", ErrRecordStoreFailed, err)
	}

	if ks.plotScoped {
		rec.Plot = &plot
	}

	if payloadJSON != nil {
		data, err := unmarshalAttrs(payloadJSON)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRecordStoreFailed, err)
		}

		rec.Data = data
	}

	info, err := unmarshalAttrs(infoJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRecordStoreFailed, err)
	}

	rec.RecordInfo = info

	return &rec, nil
}
