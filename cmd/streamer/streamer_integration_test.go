package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/GEMINI-Breeding/gemini-engine/internal/api"
	"github.com/GEMINI-Breeding/gemini-engine/internal/config"
	"github.com/GEMINI-Breeding/gemini-engine/internal/records"
	"github.com/GEMINI-Breeding/gemini-engine/internal/registry"
	"github.com/GEMINI-Breeding/gemini-engine/internal/storage"
)

// streamerTestEnv bundles the Kafka broker and the stores the consumer
// writes through.
type streamerTestEnv struct {
	brokers     []string
	recordStore *storage.RecordStore
	registry    *storage.RegistryStore
}

func setupStreamerEnv(ctx context.Context, t *testing.T) *streamerTestEnv {
	t.Helper()

	kafkaContainer, err := tckafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("gemini-streamer-test"),
	)
	if err != nil {
		t.Fatalf("Failed to start Kafka container: %v", err)
	}

	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(kafkaContainer)
	})

	brokers, err := kafkaContainer.Brokers(ctx)
	if err != nil {
		t.Fatalf("Failed to resolve Kafka brokers: %v", err)
	}

	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	conn := storage.NewConnectionFromDB(testDB.Connection)

	recordStore, err := storage.NewRecordStore(conn)
	if err != nil {
		t.Fatalf("NewRecordStore() error = %v", err)
	}

	registryStore, err := storage.NewRegistryStore(conn)
	if err != nil {
		t.Fatalf("NewRegistryStore() error = %v", err)
	}

	return &streamerTestEnv{
		brokers:     brokers,
		recordStore: recordStore,
		registry:    registryStore,
	}
}

// produceMessages writes messages to the broker, retrying while topic
// auto-creation settles.
func produceMessages(ctx context.Context, t *testing.T, brokers []string, msgs ...kafka.Message) {
	t.Helper()

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}

	defer func() {
		_ = writer.Close()
	}()

	var err error
	for attempt := 0; attempt < 15; attempt++ {
		err = writer.WriteMessages(ctx, msgs...)
		if err == nil {
			return
		}

		time.Sleep(time.Second)
	}

	t.Fatalf("WriteMessages() error after retries = %v", err)
}

func intPtr(v int) *int { return &v }

func traitMessage(t *testing.T, topic string, timestamp time.Time, plot int) kafka.Message {
	t.Helper()

	payload := api.RecordPayload{
		Timestamp:        timestamp,
		ProducerName:     "Canopy Cover",
		DatasetName:      "Canopy Cover Stream",
		ExperimentName:   "Kafka Trial",
		SeasonName:       "Season K1",
		SiteName:         "Site K1",
		PlotNumber:       intPtr(plot),
		PlotRowNumber:    intPtr(1),
		PlotColumnNumber: intPtr(plot),
		TraitValue:       0.42,
	}

	value, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}

	return kafka.Message{Topic: topic, Value: value}
}

// TestStreamerIntegration drives the consumer against real Kafka and
// PostgreSQL containers: valid messages land as records through the insert
// pipeline, undecodable messages are committed and skipped, and rejected
// combinations do not block the batch.
func TestStreamerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	env := setupStreamerEnv(ctx, t)

	exp, err := env.registry.CreateExperiment(ctx, &registry.Experiment{Name: "Kafka Trial"})
	if err != nil {
		t.Fatalf("CreateExperiment() error = %v", err)
	}

	if _, err := env.registry.CreateSeason(ctx, &registry.Season{ExperimentID: exp.ID, Name: "Season K1"}); err != nil {
		t.Fatalf("CreateSeason() error = %v", err)
	}

	site, err := env.registry.CreateSite(ctx, &registry.Site{Name: "Site K1"})
	if err != nil {
		t.Fatalf("CreateSite() error = %v", err)
	}

	if err := env.registry.AssociateExperimentSite(ctx, exp.ID, site.ID, nil); err != nil {
		t.Fatalf("AssociateExperimentSite() error = %v", err)
	}

	if _, err := env.registry.CreateTrait(ctx, &registry.Trait{Name: "Canopy Cover", Units: "%"}); err != nil {
		t.Fatalf("CreateTrait() error = %v", err)
	}

	streamerConfig := &StreamerConfig{
		Brokers:       env.brokers,
		TopicPrefix:   defaultTopicPrefix,
		ConsumerGroup: "gemini-streamer-it",
		BatchSize:     10,
		FlushInterval: 200 * time.Millisecond,
	}
	if err := streamerConfig.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	topic := defaultTopicPrefix + registry.KindTrait.String()
	base := time.Date(2026, 7, 20, 9, 0, 0, 0, time.UTC)

	// A rejected combination ("Season Nowhere") and a poison message ride
	// alongside two valid records; neither may stall the valid ones.
	rejected := api.RecordPayload{
		Timestamp:        base,
		ProducerName:     "Canopy Cover",
		DatasetName:      "Canopy Cover Stream",
		ExperimentName:   "Kafka Trial",
		SeasonName:       "Season Nowhere",
		SiteName:         "Site K1",
		PlotNumber:       intPtr(9),
		PlotRowNumber:    intPtr(1),
		PlotColumnNumber: intPtr(9),
		TraitValue:       0.5,
	}

	rejectedValue, err := json.Marshal(rejected)
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}

	produceMessages(ctx, t, env.brokers,
		traitMessage(t, topic, base, 1),
		kafka.Message{Topic: topic, Value: []byte("{not json")},
		traitMessage(t, topic, base.Add(time.Minute), 2),
		kafka.Message{Topic: topic, Value: rejectedValue},
	)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     streamerConfig.Brokers,
		GroupID:     streamerConfig.ConsumerGroup,
		GroupTopics: streamerConfig.Topics(),
		MinBytes:    1,
		MaxBytes:    10 << 20,
	})

	t.Cleanup(func() {
		_ = reader.Close()
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c := &consumer{
		reader:      reader,
		recordStore: env.recordStore,
		config:      streamerConfig,
		logger:      logger,
	}

	runCtx, cancel := context.WithCancel(ctx)

	done := make(chan error, 1)

	go func() {
		done <- c.run(runCtx)
	}()

	filter := &records.Filter{DatasetName: "Canopy Cover Stream"}
	page := &records.Pagination{Limit: 10}

	deadline := time.Now().Add(2 * time.Minute)

	var result *records.QueryResult

	for time.Now().Before(deadline) {
		result, err = env.recordStore.QueryRecords(ctx, registry.KindTrait, filter, page)
		if err != nil {
			t.Fatalf("QueryRecords() error = %v", err)
		}

		if result.Total >= 2 {
			break
		}

		time.Sleep(500 * time.Millisecond)
	}

	cancel()

	select {
	case runErr := <-done:
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			t.Errorf("run() error = %v, want context.Canceled", runErr)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("Consumer did not stop after cancellation")
	}

	if result == nil || result.Total != 2 {
		total := -1
		if result != nil {
			total = result.Total
		}

		t.Fatalf("Stored records = %d, want 2", total)
	}

	for _, rec := range result.Records {
		if rec.TraitValue != 0.42 {
			t.Errorf("TraitValue = %v, want 0.42", rec.TraitValue)
		}
	}
}
