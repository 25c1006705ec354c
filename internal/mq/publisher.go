package mq

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/brokerwiz/quoterd/internal/domain"
)

// Publisher публикует job-сообщения в брокер.
type Publisher struct {
	conn       *Connection
	delayTiers int
	logger     *slog.Logger
}

// NewPublisher создаёт новый Publisher.
// delayTiers — число объявленных ярусов wait-очередей (N2), должно
// совпадать с переданным в SetupTopology.
func NewPublisher(conn *Connection, delayTiers int, logger *slog.Logger) *Publisher {
	if delayTiers < 1 {
		delayTiers = 1
	}
	return &Publisher{
		conn:       conn,
		delayTiers: delayTiers,
		logger:     logger,
	}
}

// PublishJob публикует job в рабочую очередь его target'а.
func (p *Publisher) PublishJob(ctx context.Context, msg *domain.JobMessage) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}

	return p.conn.WithChannel(func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(ExchangeQuotes), // exchange
			msg.Target,             // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт брокера
				MessageId:    uuid.New().String(),
				Timestamp:    time.Now(),
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish job %s to %s: %w", msg.JobID, msg.Target, err)
		}

		p.logger.Debug("published job",
			"job_id", msg.JobID,
			"target", msg.Target,
			"attempt", msg.Attempt,
		)

		return nil
	})
}

// PublishDelayedRetry публикует job в wait-очередь target'а с задержкой.
//
// Задержка реализуется per-message TTL: по его истечении брокер
// перекладывает сообщение в рабочую очередь через dead-letter маршрут.
// Wait-очередь выбирается по ярусу backoff'а (из attempt сообщения),
// чтобы короткие повторы не ждали истечения длинных в голове общей
// очереди. Публикация идёт persistent — запланированный повтор
// переживает рестарт и воркера, и брокера.
//
// Ошибка публикации означает, что отложенный повтор НЕ зафиксирован
// надёжно; вызывающий обязан обработать её явно (DLQ), а не глотать.
func (p *Publisher) PublishDelayedRetry(ctx context.Context, msg *domain.JobMessage, delay time.Duration) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}

	queue := WaitQueue(msg.Target, waitTierFor(msg.Attempt, p.delayTiers))
	expiration := strconv.FormatInt(delay.Milliseconds(), 10)

	return p.conn.WithChannel(func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			"",            // default exchange: routing key = имя очереди
			string(queue), // wait-очередь яруса
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    uuid.New().String(),
				Timestamp:    time.Now(),
				Expiration:   expiration,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish delayed retry %s (delay %s): %w", msg.JobID, delay, err)
		}

		p.logger.Debug("published delayed retry",
			"job_id", msg.JobID,
			"target", msg.Target,
			"attempt", msg.Attempt,
			"delay", delay,
		)

		return nil
	})
}

// waitTierFor возвращает ярус wait-очереди для сообщения.
//
// Сообщение публикуется уже со следующим attempt, а задержка считалась
// по провалившемуся: показатель экспоненты k = attempt - 2. Выход за
// границы объявленных ярусов прижимается к крайним очередям.
func waitTierFor(attempt, tiers int) int {
	tier := attempt - 2
	if tier < 0 {
		tier = 0
	}
	if tier >= tiers {
		tier = tiers - 1
	}
	return tier
}
