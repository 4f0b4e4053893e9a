// Package main provides the Kafka ingestion bridge for the GEMINI engine.
//
// Field stations publish observation records to per-kind Kafka topics; the
// streamer consumes them, batches per kind, and drives the same insert
// pipeline as the HTTP API. Combination rejections are terminal, so rejected
// messages are logged and committed rather than redelivered; infrastructure
// failures leave offsets uncommitted for retry.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/GEMINI-Breeding/gemini-engine/internal/aliasing"
	"github.com/GEMINI-Breeding/gemini-engine/internal/api"
	"github.com/GEMINI-Breeding/gemini-engine/internal/config"
	"github.com/GEMINI-Breeding/gemini-engine/internal/records"
	"github.com/GEMINI-Breeding/gemini-engine/internal/registry"
	"github.com/GEMINI-Breeding/gemini-engine/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "gemini-streamer"
)

// retryBackoff is the pause after an infrastructure failure before the
// consumer refetches uncommitted messages.
const retryBackoff = 5 * time.Second

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("GEMINI_LOG_LEVEL", slog.LevelInfo),
	}))

	streamerConfig := LoadStreamerConfig()
	if err := streamerConfig.Validate(); err != nil {
		logger.Error("Invalid streamer configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Starting GEMINI streamer",
		slog.String("service", name),
		slog.String("version", version),
		slog.Any("brokers", streamerConfig.Brokers),
		slog.String("consumer_group", streamerConfig.ConsumerGroup),
		slog.Any("topics", streamerConfig.Topics()),
		slog.Int("batch_size", streamerConfig.BatchSize),
		slog.Duration("flush_interval", streamerConfig.FlushInterval),
	)

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close()
	}()

	aliasConfig, err := aliasing.LoadConfigFromEnv()
	if err != nil {
		logger.Error("Failed to load alias configuration", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	recordStore, err := storage.NewRecordStore(dbConn,
		storage.WithAliasResolver(aliasing.NewResolver(aliasConfig)),
	)
	if err != nil {
		logger.Error("Failed to create record store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     streamerConfig.Brokers,
		GroupID:     streamerConfig.ConsumerGroup,
		GroupTopics: streamerConfig.Topics(),
		MinBytes:    1,
		MaxBytes:    10 << 20,
	})

	ctx, cancel := context.WithCancel(context.Background())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-stop
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	consumer := &consumer{
		reader:      reader,
		recordStore: recordStore,
		config:      streamerConfig,
		logger:      logger,
	}

	if err := consumer.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Consumer stopped with error", slog.String("error", err.Error()))

		_ = reader.Close()
		_ = dbConn.Close()
		os.Exit(1)
	}

	if err := reader.Close(); err != nil {
		logger.Error("Failed to close Kafka reader", slog.String("error", err.Error()))
	}

	logger.Info("GEMINI streamer stopped")
}

// consumer drives the fetch/batch/flush loop.
type consumer struct {
	reader      *kafka.Reader
	recordStore records.Store
	config      *StreamerConfig
	logger      *slog.Logger
}

// batch accumulates messages for one kind between flushes.
type batch struct {
	inserts  []*records.Insert
	messages []kafka.Message
}

// run consumes messages until the context is cancelled. Messages are fetched
// on a separate goroutine so partial batches can flush on a timer.
func (c *consumer) run(ctx context.Context) error {
	fetched := make(chan kafka.Message)
	fetchErr := make(chan error, 1)

	go func() {
		defer close(fetched)

		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				fetchErr <- err

				return
			}

			select {
			case fetched <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	batches := make(map[registry.Kind]*batch)
	buffered := 0

	ticker := time.NewTicker(c.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.flushAll(context.Background(), batches)

			return ctx.Err()
		case err := <-fetchErr:
			c.flushAll(context.Background(), batches)

			return err
		case msg := <-fetched:
			if c.buffer(batches, msg) {
				buffered++
			}

			if buffered >= c.config.BatchSize {
				c.flushAll(ctx, batches)

				buffered = 0
			}
		case <-ticker.C:
			if buffered > 0 {
				c.flushAll(ctx, batches)

				buffered = 0
			}
		}
	}
}

// buffer decodes a message into the batch for its kind. Undecodable messages
// are poison: they are logged and committed immediately so they cannot wedge
// the partition.
func (c *consumer) buffer(batches map[registry.Kind]*batch, msg kafka.Message) bool {
	kind, ok := c.config.kindFromTopic(msg.Topic)
	if !ok {
		c.logger.Warn("Message on unrecognized topic",
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
		)

		c.commit(context.Background(), msg)

		return false
	}

	var payload api.RecordPayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		c.logger.Warn("Dropping undecodable message",
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)

		c.commit(context.Background(), msg)

		return false
	}

	b := batches[kind]
	if b == nil {
		b = &batch{}
		batches[kind] = b
	}

	b.inserts = append(b.inserts, payload.ToInsert(kind))
	b.messages = append(b.messages, msg)

	return true
}

// flushAll inserts every buffered batch and commits offsets for batches that
// reached the store. Batches that hit infrastructure errors stay uncommitted
// and are cleared for refetch after a backoff.
func (c *consumer) flushAll(ctx context.Context, batches map[registry.Kind]*batch) {
	for kind, b := range batches {
		if len(b.inserts) == 0 {
			continue
		}

		results, err := c.recordStore.InsertRecords(ctx, b.inserts)
		if err != nil {
			c.logger.Error("Batch insert failed, messages will be refetched",
				slog.String("kind", kind.String()),
				slog.Int("count", len(b.inserts)),
				slog.String("error", err.Error()),
			)

			delete(batches, kind)
			time.Sleep(retryBackoff)

			continue
		}

		if i := firstTransientFailure(results); i >= 0 {
			c.logger.Error("Batch hit transient failure, messages will be refetched",
				slog.String("kind", kind.String()),
				slog.String("topic", b.messages[i].Topic),
				slog.Int64("offset", b.messages[i].Offset),
				slog.String("error", results[i].Err.Error()),
			)

			delete(batches, kind)
			time.Sleep(retryBackoff)

			continue
		}

		inserted, rejected := 0, 0

		for i, res := range results {
			switch {
			case res.Inserted:
				inserted++
			default:
				rejected++

				reason := "unknown"
				if res.Err != nil {
					reason = res.Err.Error()
				}

				c.logger.Warn("Record rejected",
					slog.String("kind", kind.String()),
					slog.String("topic", b.messages[i].Topic),
					slog.Int64("offset", b.messages[i].Offset),
					slog.String("reason", reason),
				)
			}
		}

		c.logger.Info("Flushed batch",
			slog.String("kind", kind.String()),
			slog.Int("inserted", inserted),
			slog.Int("rejected", rejected),
		)

		c.commit(ctx, b.messages...)
		delete(batches, kind)
	}
}

// commit marks messages as processed, logging on failure. A failed commit
// means redelivery, which the idempotent insert path absorbs as duplicates.
func (c *consumer) commit(ctx context.Context, msgs ...kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		c.logger.Error("Failed to commit offsets", slog.String("error", err.Error()))
	}
}

// firstTransientFailure returns the index of the first record whose failure
// is not a domain rejection, or -1 when every outcome is final. Offsets are
// committed per batch, so one transient failure holds the whole batch back;
// already-inserted rows come back as duplicates on redelivery.
func firstTransientFailure(results []*records.InsertResult) int {
	for i, res := range results {
		if res.Err != nil && !domainRejection(res.Err) {
			return i
		}
	}

	return -1
}

// domainRejection reports whether a record failure is final, meaning the
// record itself was rejected and redelivery cannot change the outcome.
// Anything else is treated as transient.
func domainRejection(err error) bool {
	switch {
	case errors.Is(err, records.ErrInvalidCombination),
		errors.Is(err, records.ErrPlotNotFound),
		errors.Is(err, records.ErrNameNotFound),
		errors.Is(err, records.ErrDuplicateRecord),
		errors.Is(err, records.ErrForeignConstraint),
		errors.Is(err, records.ErrNilInsert),
		errors.Is(err, records.ErrInvalidKind),
		errors.Is(err, records.ErrMissingTimestamp),
		errors.Is(err, records.ErrMissingProducerName),
		errors.Is(err, records.ErrMissingDatasetName),
		errors.Is(err, records.ErrMissingHierarchyName),
		errors.Is(err, records.ErrMissingPlot):
		return true
	}

	return false
}
