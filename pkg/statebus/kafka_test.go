package statebus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"

	"publishwed/pkg/stream"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNewKafkaSinkValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewKafkaSink(KafkaConfig{Topic: "session-events"}, nil); err == nil {
		t.Fatal("expected error when brokers are missing")
	}
	if _, err := NewKafkaSink(KafkaConfig{Brokers: []string{" ", "\t"}, Topic: "session-events"}, nil); err == nil {
		t.Fatal("expected error when brokers are blank")
	}
	if _, err := NewKafkaSink(KafkaConfig{Brokers: []string{"127.0.0.1:9092"}}, nil); err == nil {
		t.Fatal("expected error when topic is missing")
	}
	sink, err := NewKafkaSink(KafkaConfig{Brokers: []string{" 127.0.0.1:9092 "}, Topic: "session-events"}, nil)
	if err != nil {
		t.Fatalf("expected valid sink config, got error: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestNilSinkGuards(t *testing.T) {
	t.Parallel()

	var nilSink *KafkaSink
	if err := nilSink.Close(); err != nil {
		t.Fatalf("expected nil close to be no-op, got: %v", err)
	}
	if err := nilSink.Forward(context.Background(), stream.NewEvent("x", nil)); err == nil {
		t.Fatal("expected forward error for nil sink")
	}
}

func TestRunForwardsUntilChannelClosed(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	sink := &KafkaSink{writer: w, logger: discardLogger()}
	hub := stream.NewHub()
	ch := hub.Subscribe(8)

	done := make(chan struct{})
	go func() {
		sink.Run(context.Background(), ch)
		close(done)
	}()
	hub.Publish(stream.NewEvent(stream.SessionAuthenticated, map[string]int64{"user_id": 1}))
	hub.Publish(stream.NewEvent(stream.SessionLoggedOut, nil))
	hub.Unsubscribe(ch)
	<-done

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.msgs) != 2 {
		t.Fatalf("expected 2 forwarded messages, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != stream.SessionAuthenticated {
		t.Fatalf("expected key %s, got %s", stream.SessionAuthenticated, w.msgs[0].Key)
	}
	var evt stream.Event
	if err := json.Unmarshal(w.msgs[0].Value, &evt); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if evt.Type != stream.SessionAuthenticated || string(evt.Data) != `{"user_id":1}` {
		t.Fatalf("unexpected payload %+v", evt)
	}
}

func TestRunSurvivesWriteErrorsAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{err: errors.New("broker down")}
	sink := &KafkaSink{writer: w, logger: discardLogger()}
	ch := make(chan stream.Event, 2)
	ch <- stream.NewEvent(stream.SessionInvalidated, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sink.Run(ctx, ch)
		close(done)
	}()
	cancel()
	<-done
	if err := sink.Close(); err != nil || !w.closed {
		t.Fatalf("expected writer closed, err=%v", err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
