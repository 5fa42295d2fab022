package collab

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/NainaKothari-14/drawtogether/backend/internal/canvas"
)

var (
	ErrDispatcherClosed = errors.New("DISPATCHER_CLOSED")
	ErrDispatcherFull   = errors.New("DISPATCHER_QUEUE_FULL")
)

// KafkaDispatcher streams board actions to Kafka through a bounded local
// queue drained by a few workers with capped exponential backoff. A full
// queue drops events: the stream is an audit/analytics feed, the board
// itself never waits on it.
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string

	queue chan BoardActionEvent

	// limits concurrent SendMessage calls
	sem *SemaphoreControl

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	log         *slog.Logger

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
	sent    atomic.Uint64
}

type KafkaDispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Logger      *slog.Logger
}

func NewKafkaDispatcher(producer sarama.SyncProducer, topic string, sem *SemaphoreControl, opt KafkaDispatcherOptions) *KafkaDispatcher {
	if opt.QueueSize <= 0 {
		opt.QueueSize = 10_000
	}
	if opt.Workers <= 0 {
		opt.Workers = 4
	}
	if opt.BaseBackoff <= 0 {
		opt.BaseBackoff = 50 * time.Millisecond
	}
	if opt.MaxBackoff < opt.BaseBackoff {
		opt.MaxBackoff = opt.BaseBackoff
	}
	lg := opt.Logger
	if lg == nil {
		lg = slog.Default()
	}
	d := &KafkaDispatcher{
		producer:    producer,
		topic:       topic,
		queue:       make(chan BoardActionEvent, opt.QueueSize),
		sem:         sem,
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
		log:         lg.With("component", "kafka_dispatcher", "topic", topic),
	}

	d.Start()
	return d
}

// Offer enqueues without waiting. It fails with ErrDispatcherClosed after
// Close and with ErrDispatcherFull when the queue has no room; full-queue
// drops are counted.
func (d *KafkaDispatcher) Offer(evt BoardActionEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- evt:
		return nil
	default:
		if d.dropped.Add(1)%1000 == 1 {
			d.log.Warn("kafka queue full, dropping events", "board", evt.BoardKey, "seq", evt.Seq, "dropped", d.dropped.Load())
		}
		return ErrDispatcherFull
	}
}

// PublishAction makes the dispatcher an ActionSink.
func (d *KafkaDispatcher) PublishAction(boardKey string, a canvas.Action) {
	if err := d.Offer(newBoardActionEvent(boardKey, a)); errors.Is(err, ErrDispatcherClosed) {
		d.log.Debug("action after close not streamed", "board", boardKey, "seq", a.Seq)
	}
}

func (d *KafkaDispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(i)
	}
}

// Close stops accepting events and waits for the workers to drain the queue.
func (d *KafkaDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

// Stats returns sent and dropped event counts.
func (d *KafkaDispatcher) Stats() (sent, dropped uint64) {
	return d.sent.Load(), d.dropped.Load()
}

func (d *KafkaDispatcher) workerLoop(workerID int) {
	defer d.wg.Done()
	for evt := range d.queue {
		d.sendWithRetry(workerID, evt)
	}
}

func (d *KafkaDispatcher) sendWithRetry(workerID int, evt BoardActionEvent) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		if d.sem != nil {
			// workers may wait indefinitely, they are off the board path
			_ = d.sem.Acquire(context.Background())
		}

		err := d.sendOnce(evt)

		if d.sem != nil {
			_ = d.sem.Release()
		}

		if err == nil {
			d.sent.Add(1)
			return
		}

		if attempt == d.maxRetry {
			d.dropped.Add(1)
			d.log.Error("kafka send failed, drop event",
				"board", evt.BoardKey, "seq", evt.Seq, "worker", workerID, "err", err)
			return
		}

		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *KafkaDispatcher) sendOnce(evt BoardActionEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(evt.BoardKey),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}

// NewSyncProducer builds the producer the dispatcher expects.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	// SyncProducer requires Return.Successes
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return sarama.NewSyncProducer(brokers, cfg)
}
