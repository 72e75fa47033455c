package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/golang/glog"
)

// KafkaDispatcher：本地有界队列 + worker 异步发送 + 有限重试。
// - Enqueue 只负责入队，不阻塞同步链路
// - Kafka 短暂不可用时靠队列吸收
// - 队列满且 ctx 到期时丢弃，事件流不要求每条必达
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string

	queue chan RoomUpdateEvent
	wg    sync.WaitGroup
	once  sync.Once

	// 限制并发的 SendMessage 数量
	sem *SemaphoreControl

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

type KafkaDispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewKafkaDispatcher(producer sarama.SyncProducer, topic string, sem *SemaphoreControl, opt KafkaDispatcherOptions) *KafkaDispatcher {
	if opt.Workers <= 0 {
		opt.Workers = 1
	}
	d := &KafkaDispatcher{
		producer:    producer,
		topic:       topic,
		queue:       make(chan RoomUpdateEvent, opt.QueueSize),
		sem:         sem,
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}
	d.start()
	return d
}

// Enqueue 队列满时等到 ctx 结束，返回 ctx 的错误
func (d *KafkaDispatcher) Enqueue(ctx context.Context, evt RoomUpdateEvent) error {
	select {
	case d.queue <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止接收并等队列里剩下的事件发完。之后不能再 Enqueue。
func (d *KafkaDispatcher) Close() {
	d.once.Do(func() { close(d.queue) })
	d.wg.Wait()
}

func (d *KafkaDispatcher) start() {
	d.wg.Add(d.workers)
	for i := range d.workers {
		go func() {
			defer d.wg.Done()
			for evt := range d.queue {
				d.deliver(i, evt)
			}
		}()
	}
}

// deliver 最多尝试 maxRetry+1 次，全部失败就丢弃
func (d *KafkaDispatcher) deliver(worker int, evt RoomUpdateEvent) {
	var err error
	for attempt := 0; ; attempt++ {
		if err = d.sendGuarded(evt); err == nil {
			return
		}
		if attempt >= d.maxRetry {
			break
		}
		time.Sleep(d.backoff(attempt))
	}
	glog.Warningf("kafka send failed, drop event room=%s op=%s worker=%d err=%v",
		evt.RoomID, evt.OperationID, worker, err)
}

func (d *KafkaDispatcher) sendGuarded(evt RoomUpdateEvent) error {
	if d.sem == nil {
		return d.sendOnce(evt)
	}
	// worker 可以一直等，不影响主链路
	_ = d.sem.Acquire(context.Background())
	defer func() { _ = d.sem.Release() }()
	return d.sendOnce(evt)
}

func (d *KafkaDispatcher) backoff(attempt int) time.Duration {
	return min(d.baseBackoff<<attempt, d.maxBackoff)
}

func (d *KafkaDispatcher) sendOnce(evt RoomUpdateEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal room event: %w", err)
	}
	_, _, err = d.producer.SendMessage(&sarama.ProducerMessage{
		Topic: d.topic,
		// 同一房间的事件落在同一分区，保持顺序
		Key:   sarama.StringEncoder(evt.RoomID),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(evt.EventType)},
		},
	})
	return err
}
