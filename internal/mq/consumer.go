package mq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler — функция обработки доставки.
//
// Handler сам отвечает за судьбу сообщения: Ack, Nack(requeue) или
// Nack(drop). Возвращённая ошибка только логируется — решение о
// повторе принимает pipeline воркера, а не consumer.
type Handler func(ctx context.Context, d *Delivery)

// Delivery — доставленное сообщение с методами ack/nack.
type Delivery struct {
	// Body — сырое тело сообщения.
	Body []byte

	// Queue — очередь, из которой пришла доставка.
	Queue string

	// Redelivered — брокер уже доставлял это сообщение ранее.
	Redelivered bool

	// Raw — исходная AMQP-доставка.
	Raw amqp.Delivery
}

// Ack подтверждает успешную обработку сообщения.
func (d *Delivery) Ack() error {
	return d.Raw.Ack(false)
}

// Nack отклоняет сообщение.
// requeue=true — вернуть в очередь для повторной доставки.
func (d *Delivery) Nack(requeue bool) error {
	return d.Raw.Nack(false, requeue)
}

// Consumer потребляет доставки из одной очереди.
//
// Несколько Consumer'ов на одну очередь (в том числе в разных
// процессах) делят её доставки round-robin. Внутри одного Consumer'а
// доставки обрабатываются конкурентно, до prefetch штук одновременно.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	handler  Handler
	prefetch int

	cancelFunc context.CancelFunc
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue string

	// Handler — обработчик доставок.
	Handler Handler

	// Prefetch — сколько неподтверждённых доставок брокер выдаёт
	// этому consumer'у одновременно.
	Prefetch int
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Consumer{
		conn:     conn,
		logger:   logger,
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Start запускает потребление сообщений.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	return c.consume(ctx)
}

// consume — основной цикл потребления.
//
// При разрыве соединения ждёт reconnect и продолжает; неподтверждённые
// доставки брокер выдаст заново (возможны дубликаты — downstream
// обязан их терпеть).
func (c *Consumer) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		deliveries, err := c.setupConsume()
		if err != nil {
			c.logger.Error("failed to setup consume", "queue", c.queue, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.conn.ReconnectNotify():
				c.logger.Info("reconnected, restarting consumer", "queue", c.queue)
				continue
			}
		}

		c.logger.Info("consumer started", "queue", c.queue)

		if err := c.processDeliveries(ctx, deliveries); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries channel closed, waiting for reconnect", "queue", c.queue)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.conn.ReconnectNotify():
				continue
			}
		}
	}
}

// setupConsume настраивает канал и начинает потребление.
func (c *Consumer) setupConsume() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, fmt.Errorf("no channel available")
	}

	// Устанавливаем prefetch
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		c.queue, // queue
		"",      // consumer tag (auto-generated)
		false,   // auto-ack (мы ack вручную)
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	return deliveries, nil
}

// processDeliveries обрабатывает доставки из канала.
//
// Каждая доставка идёт в своей горутине: prefetch неподтверждённых
// доставок обрабатываются одновременно, и именно admission-контроллер
// воркера, а не последовательный цикл consumer'а, ограничивает
// конкурентность. Семафор дублирует QoS-лимит брокера на случай,
// когда prefetch на канале сброшен после reconnect.
//
// Перед выходом ждёт завершения запущенных обработчиков: доставка,
// прерванная остановкой, будет настроена (ack/nack) самим handler'ом,
// а не брошена.
func (c *Consumer) processDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	sem := make(chan struct{}, c.prefetch)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries channel closed")
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				// Неподтверждённую доставку брокер выдаст заново
				// после закрытия канала.
				return ctx.Err()
			}

			wg.Add(1)
			go func(raw amqp.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()

				c.handler(ctx, &Delivery{
					Body:        raw.Body,
					Queue:       c.queue,
					Redelivered: raw.Redelivered,
					Raw:         raw,
				})
			}(raw)
		}
	}
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}
