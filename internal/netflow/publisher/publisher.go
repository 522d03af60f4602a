// Package publisher announces committed net-flow updates on Kafka.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
	"github.com/goodnatureofminers/netflow-backend/pkg/batcher"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// BlockMessage identifies a block in an update.
type BlockMessage struct {
	Height     uint64 `json:"height"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parentHash"`
}

// EntryMessage carries the totals of one entry after the commit.
type EntryMessage struct {
	Key           string `json:"key"`
	CumulativeIn  string `json:"cumulativeIn"`
	CumulativeOut string `json:"cumulativeOut"`
	Netflow       string `json:"netflow"`
}

// NetflowUpdate is the payload published for every durable commit.
type NetflowUpdate struct {
	Block    BlockMessage   `json:"block"`
	Reverted []BlockMessage `json:"reverted"`
	Entries  []EntryMessage `json:"entries"`
}

// Publisher writes one message per committed block, keyed by block hash.
// Messages are queued by Notify and written in batches in the background,
// so a slow broker never holds up ingestion.
type Publisher struct {
	writer  MessageWriter
	metrics Metrics
	batch   *batcher.Batcher[kafka.Message]
}

// NewKafkaPublisher creates a Publisher backed by a synchronous kafka.Writer.
func NewKafkaPublisher(logger *zap.Logger, brokers []string, topic string, metrics Metrics, flushSize int, flushInterval time.Duration) *Publisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
	}
	return New(logger, writer, metrics, flushSize, flushInterval)
}

func New(logger *zap.Logger, writer MessageWriter, metrics Metrics, flushSize int, flushInterval time.Duration) *Publisher {
	p := &Publisher{writer: writer, metrics: metrics}
	p.batch = batcher.New(logger.Named("kafka_publisher"), p.write, flushSize, flushInterval, 0)
	return p
}

// Start begins writing queued updates.
func (p *Publisher) Start(ctx context.Context) {
	p.batch.Start(ctx)
}

// Notify queues the update for a committed block.
func (p *Publisher) Notify(ctx context.Context, c model.CommittedBlock) error {
	payload, err := json.Marshal(NewUpdate(c))
	if err != nil {
		return fmt.Errorf("encode netflow update: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(c.Block.Ref.Hash.Hex()),
		Value: payload,
	}
	if err := p.batch.Add(ctx, msg); err != nil {
		return fmt.Errorf("queue netflow update for %s: %w", c.Block.Ref, err)
	}
	return nil
}

func (p *Publisher) write(ctx context.Context, msgs []kafka.Message) error {
	start := time.Now()
	var err error
	defer func() {
		p.metrics.Observe(err, start)
	}()

	if err = p.writer.WriteMessages(ctx, msgs...); err != nil {
		err = fmt.Errorf("publish %d netflow updates: %w", len(msgs), err)
		return err
	}
	return nil
}

// Close writes what is still queued and closes the writer.
func (p *Publisher) Close() error {
	p.batch.Stop()
	return p.writer.Close()
}

// NewUpdate converts a committed block into its wire form.
func NewUpdate(c model.CommittedBlock) NetflowUpdate {
	u := NetflowUpdate{
		Block:    blockMessage(c.Block.Ref),
		Reverted: make([]BlockMessage, 0, len(c.Reverted)),
		Entries:  make([]EntryMessage, 0, len(c.Entries)),
	}
	for _, b := range c.Reverted {
		u.Reverted = append(u.Reverted, blockMessage(b.Ref))
	}
	for _, e := range c.Entries {
		u.Entries = append(u.Entries, EntryMessage{
			Key:           e.Key(),
			CumulativeIn:  e.In.Dec(),
			CumulativeOut: e.Out.Dec(),
			Netflow:       e.Netflow().String(),
		})
	}
	return u
}

func blockMessage(ref model.BlockRef) BlockMessage {
	return BlockMessage{Height: ref.Height, Hash: ref.Hash.Hex(), ParentHash: ref.ParentHash.Hex()}
}
