package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

func deadLetterMessage(t *testing.T, partition int32, offset int64, orderID, eventType string) *sarama.ConsumerMessage {
	t.Helper()

	letter, err := json.Marshal(map[string]any{
		"outbox_id":      "outbox-" + orderID,
		"aggregate_type": "order",
		"aggregate_id":   orderID,
		"event_type":     eventType,
		"payload":        map[string]any{"orderId": orderID, "totalPrice": "10.00"},
		"publish_error":  "broker unavailable",
	})
	if err != nil {
		t.Fatalf("marshal dead letter: %v", err)
	}

	raw, err := json.Marshal(kafka.Envelope{
		ID:            "outbox-" + orderID,
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       letter,
		OccurredAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &sarama.ConsumerMessage{Partition: partition, Offset: offset, Value: raw}
}

func envFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestDecodeDeadLetter(t *testing.T) {
	msg := deadLetterMessage(t, 0, 0, "order-1", "order.placed")

	got, err := decodeDeadLetter(msg.Value)
	if err != nil {
		t.Fatalf("decodeDeadLetter failed: %v", err)
	}
	if got.key != "order-1" {
		t.Fatalf("unexpected key: %s", got.key)
	}
	if got.envelope.ID != "outbox-order-1" || got.envelope.EventType != "order.placed" {
		t.Fatalf("unexpected envelope: %+v", got.envelope)
	}
	if got.reason != "broker unavailable" {
		t.Fatalf("unexpected reason: %s", got.reason)
	}
	if !got.envelope.OccurredAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("occurred_at must be preserved, got %s", got.envelope.OccurredAt)
	}

	var payload map[string]any
	if err := json.Unmarshal(got.envelope.Payload, &payload); err != nil {
		t.Fatalf("replay payload must be the original event: %v", err)
	}
	if payload["orderId"] != "order-1" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestDecodeDeadLetter_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{name: "not json", raw: `nope`, wantErr: "decode dlq envelope"},
		{name: "no payload", raw: `{"id":"x"}`, wantErr: "no payload"},
		{name: "payload is not an object", raw: `{"id":"x","payload":"text"}`, wantErr: "decode dead letter"},
		{name: "no original event", raw: `{"id":"x","payload":{"outbox_id":"x","event_type":"order.placed"}}`, wantErr: "original event payload"},
		{name: "no event type", raw: `{"payload":{"outbox_id":"x","payload":{"a":1}}}`, wantErr: "no outbox id or event type"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeDeadLetter([]byte(tc.raw))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "x", "y"); got != "x" {
		t.Fatalf("unexpected first non-empty value: %q", got)
	}
	if got := firstNonEmpty("", " "); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestParseConfig_FromFlags(t *testing.T) {
	cfg, err := parseConfig([]string{
		"-brokers=broker-1:9092,broker-2:9092",
		"-source-topic=storefront.dlq",
		"-target-topic=storefront.order.events",
		"-event-type=order.placed",
		"-limit=10",
		"-execute=true",
		"-from-newest=true",
		"-idle-timeout=3s",
	}, envFrom(nil), io.Discard)
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}
	if len(cfg.brokers) != 2 {
		t.Fatalf("unexpected brokers count: %d", len(cfg.brokers))
	}
	if cfg.limit != 10 || cfg.eventType != "order.placed" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !cfg.execute || !cfg.fromNewest {
		t.Fatalf("expected execute and from-newest, got %+v", cfg)
	}
	if cfg.idleTimeout != 3*time.Second {
		t.Fatalf("unexpected idle-timeout: %s", cfg.idleTimeout)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := parseConfig(nil, envFrom(map[string]string{envKafkaBrokers: "kafka:9092"}), io.Discard)
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}
	if len(cfg.brokers) != 1 || cfg.brokers[0] != "kafka:9092" {
		t.Fatalf("brokers must fall back to env, got %v", cfg.brokers)
	}
	if cfg.sourceTopic != kafka.TopicDeadLetterQueue || cfg.targetTopic != kafka.TopicOrderEvents {
		t.Fatalf("unexpected topics: %s -> %s", cfg.sourceTopic, cfg.targetTopic)
	}
	if cfg.execute {
		t.Fatal("dry-run must be the default")
	}
	if cfg.limit != defaultReplayLimit || cfg.idleTimeout != defaultIdleTimeout {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestParseConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no brokers", args: []string{"-brokers="}, wantErr: "kafka brokers are required"},
		{name: "no source", args: []string{"-brokers=b:9092", "-source-topic= "}, wantErr: "source-topic is required"},
		{name: "no target", args: []string{"-brokers=b:9092", "-target-topic="}, wantErr: "target-topic is required"},
		{name: "same topic", args: []string{"-brokers=b:9092", "-source-topic=t", "-target-topic=t"}, wantErr: "must differ"},
		{name: "zero limit", args: []string{"-brokers=b:9092", "-limit=0"}, wantErr: "limit must be > 0"},
		{name: "zero idle", args: []string{"-brokers=b:9092", "-idle-timeout=0s"}, wantErr: "idle-timeout must be > 0"},
		{name: "unknown flag", args: []string{"-bogus"}, wantErr: "bogus"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseConfig(tc.args, envFrom(nil), io.Discard)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestReplay(t *testing.T) {
	if err := replay(context.Background(), nil, "topic", replayEvent{}); !errors.Is(err, errPublisherRequired) {
		t.Fatalf("expected errPublisherRequired, got %v", err)
	}

	event, err := decodeDeadLetter(deadLetterMessage(t, 0, 0, "order-7", "order.placed").Value)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	publisher := &stubPublisher{}
	if err := replay(context.Background(), publisher, "storefront.order.events", event); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if len(publisher.sent) != 1 {
		t.Fatalf("unexpected publisher calls: %d", len(publisher.sent))
	}

	sent := publisher.sent[0]
	if sent.topic != "storefront.order.events" || sent.key != "order-7" {
		t.Fatalf("unexpected destination: %+v", sent)
	}
	if sent.envelope.ID != "outbox-order-7" || sent.envelope.PublishedAt.IsZero() {
		t.Fatalf("unexpected envelope: %+v", sent.envelope)
	}
	if sent.headers[kafka.HeaderReplayed] != "true" || sent.headers[kafka.HeaderOutboxID] != "outbox-order-7" {
		t.Fatalf("unexpected headers: %v", sent.headers)
	}

	publisher.sendErr = errors.New("send failed")
	if err := replay(context.Background(), publisher, "topic", event); err == nil {
		t.Fatal("expected publish error")
	}
}

func TestProcessPartition_DryRun(t *testing.T) {
	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{deadLetterMessage(t, 0, 0, "order-1", "order.placed")}),
		},
	}

	cfg := config{sourceTopic: "storefront.dlq", targetTopic: "storefront.order.events", idleTimeout: 20 * time.Millisecond}

	stats, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 10)
	if err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if stats.processed != 1 || stats.replayed != 1 || stats.skipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(consumer.calls) != 1 || consumer.calls[0].offset != 0 {
		t.Fatalf("unexpected consume calls: %+v", consumer.calls)
	}
}

func TestProcessPartition_ExecuteWithFilter(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 4}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{
				deadLetterMessage(t, 0, 0, "order-1", "order.placed"),
				deadLetterMessage(t, 0, 1, "order-2", "order.other"),
				{Partition: 0, Offset: 2, Value: []byte(`garbage`)},
				deadLetterMessage(t, 0, 3, "order-3", "order.placed"),
			}),
		},
	}
	publisher := &stubPublisher{}

	cfg := config{
		sourceTopic: "storefront.dlq",
		targetTopic: "storefront.order.events",
		eventType:   "order.placed",
		execute:     true,
		idleTimeout: 20 * time.Millisecond,
	}

	stats, err := processPartition(context.Background(), consumer, client, publisher, cfg, 0, 10)
	if err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if stats.processed != 4 || stats.replayed != 2 || stats.skipped != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(publisher.sent) != 2 || publisher.sent[0].key != "order-1" || publisher.sent[1].key != "order-3" {
		t.Fatalf("unexpected published events: %+v", publisher.sent)
	}
}

func TestProcessPartition_FromNewest(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 3, newest: 10}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{deadLetterMessage(t, 0, 8, "order-1", "order.placed")}),
		},
	}
	cfg := config{sourceTopic: "storefront.dlq", targetTopic: "storefront.order.events", fromNewest: true, idleTimeout: 20 * time.Millisecond}

	if _, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 2); err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if consumer.calls[0].offset != 8 {
		t.Fatalf("expected to start at newest-limit=8, got %d", consumer.calls[0].offset)
	}

	consumer.calls = nil
	consumer.consumers[0] = closedPartitionConsumer(nil)
	if _, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 100); err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if consumer.calls[0].offset != 3 {
		t.Fatalf("start offset must not go below oldest, got %d", consumer.calls[0].offset)
	}
}

func TestProcessPartition_ErrorBranches(t *testing.T) {
	cfg := config{sourceTopic: "storefront.dlq", targetTopic: "storefront.order.events", execute: true, idleTimeout: 20 * time.Millisecond}

	clientOffsetErr := &stubOffsetClient{offsetErr: map[int32]error{0: errors.New("offset")}}
	if _, err := processPartition(context.Background(), &stubPartitionConsumerSource{}, clientOffsetErr, &stubPublisher{}, cfg, 0, 1); err == nil {
		t.Fatal("expected offset error")
	}

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumerErr := &stubPartitionConsumerSource{consumeErr: errors.New("consume")}
	if _, err := processPartition(context.Background(), consumerErr, client, &stubPublisher{}, cfg, 0, 1); err == nil {
		t.Fatal("expected consume error")
	}

	pcWithErr := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	pcWithErr.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
	close(pcWithErr.errors)
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcWithErr}}
	if _, err := processPartition(context.Background(), consumer, client, &stubPublisher{}, cfg, 0, 1); err == nil {
		t.Fatal("expected consumer error branch")
	}
	close(pcWithErr.messages)

	consumer = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{deadLetterMessage(t, 0, 0, "order-1", "order.placed")}),
	}}
	publisher := &stubPublisher{sendErr: errors.New("send fail")}
	stats, err := processPartition(context.Background(), consumer, client, publisher, cfg, 0, 1)
	if err == nil {
		t.Fatal("expected publisher error")
	}
	if stats.processed != 1 || stats.replayed != 0 {
		t.Fatalf("failed replay must not be counted, got %+v", stats)
	}

	empty := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 5, newest: 5}}}
	stats, err = processPartition(context.Background(), &stubPartitionConsumerSource{}, empty, nil, cfg, 0, 1)
	if err != nil || stats.processed != 0 {
		t.Fatalf("empty partition must be a no-op, got stats=%+v err=%v", stats, err)
	}
}

func TestProcessPartition_IdleTimeoutAndContext(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}

	idleConsumer := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: idleConsumer}}
	cfg := config{sourceTopic: "storefront.dlq", targetTopic: "storefront.order.events", idleTimeout: 10 * time.Millisecond}

	stats, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 1)
	if err != nil {
		t.Fatalf("unexpected idle-timeout error: %v", err)
	}
	if stats.processed != 0 {
		t.Fatalf("expected processed=0, got %+v", stats)
	}
	if !idleConsumer.closed {
		t.Fatal("partition consumer must be closed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	canceledPC := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	canceledConsumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: canceledPC}}
	if _, err := processPartition(ctx, canceledConsumer, client, nil, cfg, 0, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestRunReplay(t *testing.T) {
	cfg := config{sourceTopic: "storefront.dlq", targetTopic: "storefront.order.events", limit: 1, idleTimeout: 20 * time.Millisecond}

	if _, err := runReplay(context.Background(), cfg, nil, nil, nil); err == nil {
		t.Fatal("expected missing deps error")
	}

	client := &stubOffsetClient{
		partitions: []int32{2, 0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
			2: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{deadLetterMessage(t, 0, 0, "order-1", "order.placed")}),
			2: closedPartitionConsumer([]*sarama.ConsumerMessage{deadLetterMessage(t, 2, 0, "order-2", "order.placed")}),
		},
	}

	stats, err := runReplay(context.Background(), cfg, client, consumer, nil)
	if err != nil {
		t.Fatalf("runReplay failed: %v", err)
	}
	if stats.replayed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(consumer.calls) != 1 || consumer.calls[0].partition != 0 {
		t.Fatalf("expected only the first sorted partition due limit=1, got %+v", consumer.calls)
	}

	executeCfg := cfg
	executeCfg.execute = true
	if _, err := runReplay(context.Background(), executeCfg, client, consumer, nil); !errors.Is(err, errPublisherRequired) {
		t.Fatalf("expected execute mode to require publisher, got %v", err)
	}

	if _, err := runReplay(context.Background(), cfg, &stubOffsetClient{}, consumer, nil); err != nil {
		t.Fatalf("expected nil error for empty partitions, got %v", err)
	}

	failing := &stubOffsetClient{partitionsErr: errors.New("metadata")}
	if _, err := runReplay(context.Background(), cfg, failing, consumer, nil); err == nil {
		t.Fatal("expected partitions error")
	}
}

func TestRun_UsesDependencies(t *testing.T) {
	oldDeps := newReplayDependencies
	defer func() { newReplayDependencies = oldDeps }()

	cfg := config{sourceTopic: "storefront.dlq", targetTopic: "storefront.order.events", limit: 1, execute: true, idleTimeout: 20 * time.Millisecond}

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, eventPublisher, error) {
		return nil, nil, nil, errors.New("deps failed")
	}
	if err := run(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "deps failed") {
		t.Fatalf("expected deps error, got %v", err)
	}

	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{deadLetterMessage(t, 0, 0, "order-1", "order.placed")}),
		},
	}
	publisher := &stubPublisher{}

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, eventPublisher, error) {
		return client, consumer, publisher, nil
	}
	if err := run(context.Background(), cfg); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(publisher.sent) != 1 {
		t.Fatalf("expected one replayed event, got %d", len(publisher.sent))
	}
	if !client.closed || !consumer.closed || !publisher.closed {
		t.Fatalf("expected all deps to be closed: client=%v consumer=%v publisher=%v", client.closed, consumer.closed, publisher.closed)
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}

	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

func closedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	errCh := make(chan *sarama.ConsumerError)
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	close(errCh)
	return &stubPartitionConsumer{messages: msgCh, errors: errCh}
}

type publishedEvent struct {
	topic    string
	key      string
	envelope kafka.Envelope
	headers  map[string]string
}

type stubPublisher struct {
	sendErr error
	sent    []publishedEvent
	closed  bool
}

func (s *stubPublisher) PublishEvent(_ context.Context, topic, key string, event any, headers ...kafka.Header) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	envelope, ok := event.(kafka.Envelope)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}
	published := publishedEvent{topic: topic, key: key, envelope: envelope, headers: make(map[string]string, len(headers))}
	for _, h := range headers {
		published.headers[h.Key] = h.Value
	}
	s.sent = append(s.sent, published)
	return nil
}

func (s *stubPublisher) Close() error {
	s.closed = true
	return nil
}
