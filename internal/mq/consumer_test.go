package mq

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type countingAcker struct {
	mu    sync.Mutex
	acked int
}

func (a *countingAcker) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked++
	return nil
}

func (a *countingAcker) Nack(tag uint64, multiple, requeue bool) error { return nil }
func (a *countingAcker) Reject(tag uint64, requeue bool) error         { return nil }

// Доставки одного consumer'а обрабатываются конкурентно: два блокирующих
// handler'а должны оказаться в полёте одновременно, а не по очереди.
func TestConsumer_ProcessesDeliveriesConcurrently(t *testing.T) {
	var inFlight atomic.Int32
	bothRunning := make(chan struct{})
	release := make(chan struct{})

	handler := func(ctx context.Context, d *Delivery) {
		if inFlight.Add(1) == 2 {
			close(bothRunning)
		}
		<-release
		d.Ack()
	}

	c := NewConsumer(nil, slog.New(slog.DiscardHandler), ConsumerConfig{
		Queue:    "quotes.q.hdi",
		Handler:  handler,
		Prefetch: 2,
	})

	acker := &countingAcker{}
	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, Body: []byte(`{}`)}
	deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 2, Body: []byte(`{}`)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.processDeliveries(ctx, deliveries)
	}()

	select {
	case <-bothRunning:
	case <-time.After(2 * time.Second):
		t.Fatal("deliveries are processed serially: second handler never started while first was in flight")
	}

	close(release)
	cancel()
	<-done

	acker.mu.Lock()
	defer acker.mu.Unlock()
	if acker.acked != 2 {
		t.Errorf("acked = %d, want 2", acker.acked)
	}
}

// Prefetch ограничивает конкурентность внутри consumer'а: при prefetch=1
// вторая доставка не стартует, пока первая не завершена.
func TestConsumer_PrefetchBoundsConcurrency(t *testing.T) {
	var started atomic.Int32
	release := make(chan struct{})

	handler := func(ctx context.Context, d *Delivery) {
		started.Add(1)
		<-release
	}

	c := NewConsumer(nil, slog.New(slog.DiscardHandler), ConsumerConfig{
		Queue:    "quotes.q.hdi",
		Handler:  handler,
		Prefetch: 1,
	})

	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- amqp.Delivery{DeliveryTag: 1, Body: []byte(`{}`)}
	deliveries <- amqp.Delivery{DeliveryTag: 2, Body: []byte(`{}`)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.processDeliveries(ctx, deliveries)
	}()

	// Первая доставка держит единственный слот семафора
	time.Sleep(50 * time.Millisecond)
	if n := started.Load(); n != 1 {
		t.Errorf("handlers started = %d, want 1 while the first blocks", n)
	}

	close(release)
	cancel()
	<-done

	if n := started.Load(); n > 2 {
		t.Errorf("handlers started = %d, want at most 2", n)
	}
}
