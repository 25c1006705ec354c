package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// ExchangeQuotes — обменник заданий на котировку.
// Direct: routing key = target, очередь на target.
const ExchangeQuotes Exchange = "quoterd.quotes"

// WorkQueue возвращает имя рабочей очереди target'а.
//
// Несколько воркеров, потребляющих одну очередь, получают
// непересекающиеся подмножества доставок round-robin —
// это и есть shared-subscription семантика.
func WorkQueue(target string) Queue {
	return Queue("quotes.q." + target)
}

// WaitQueue возвращает имя wait-очереди target'а для отложенных
// повторов яруса tier (0-based показатель backoff-экспоненты).
//
// У wait-очереди нет потребителей: сообщение лежит в ней до истечения
// per-message TTL, после чего брокер сам перекладывает его через
// dead-letter маршрут обратно в рабочую очередь. Отложенный повтор
// хранится у брокера и переживает рестарт воркера.
//
// Очередь на каждый ярус, а не одна на target: RabbitMQ проверяет
// per-message TTL только у головы очереди, и в общей очереди короткий
// повтор застрял бы за длинным до его истечения. Внутри одного яруса
// TTL различаются не больше чем на jitter, так что задержка у головы
// ограничена jitter'ом.
func WaitQueue(target string, tier int) Queue {
	return Queue(fmt.Sprintf("quotes.wait.%s.%d", target, tier))
}

// SetupTopology объявляет обменник и очереди для перечисленных
// target'ов; delayTiers — число ярусов отложенных повторов (N2).
// Идемпотентно: повторное объявление с теми же аргументами безопасно.
func SetupTopology(conn *Connection, targets []string, delayTiers int) error {
	return conn.WithChannel(func(ch *amqp.Channel) error {
		err := ch.ExchangeDeclare(
			string(ExchangeQuotes), // name
			"direct",               // type
			true,                   // durable
			false,                  // auto-deleted
			false,                  // internal
			false,                  // no-wait
			nil,                    // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ExchangeQuotes, err)
		}

		for _, target := range targets {
			if err := declareTargetQueues(ch, target, delayTiers); err != nil {
				return err
			}
		}

		return nil
	})
}

// declareTargetQueues объявляет очереди одного target'а: рабочую и
// wait-очередь на каждый ярус backoff'а.
func declareTargetQueues(ch *amqp.Channel, target string, delayTiers int) error {
	work := WorkQueue(target)

	if _, err := ch.QueueDeclare(
		string(work), // name
		true,         // durable
		false,        // delete when unused
		false,        // exclusive
		false,        // no-wait
		nil,          // arguments
	); err != nil {
		return fmt.Errorf("declare queue %s: %w", work, err)
	}

	if err := ch.QueueBind(
		string(work),           // queue name
		target,                 // routing key
		string(ExchangeQuotes), // exchange
		false,                  // no-wait
		nil,                    // arguments
	); err != nil {
		return fmt.Errorf("bind queue %s: %w", work, err)
	}

	// Истёкшие сообщения возвращаются в рабочую очередь target'а.
	waitArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeQuotes),
		"x-dead-letter-routing-key": target,
	}

	for tier := 0; tier < delayTiers; tier++ {
		wait := WaitQueue(target, tier)
		if _, err := ch.QueueDeclare(
			string(wait), // name
			true,         // durable
			false,        // delete when unused
			false,        // exclusive
			false,        // no-wait
			waitArgs,     // arguments
		); err != nil {
			return fmt.Errorf("declare queue %s: %w", wait, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo(targets []string, delayTiers int) string {
	s := "\n  quoterd topology:\n\n    quoterd.quotes (direct)\n"
	for _, t := range targets {
		s += fmt.Sprintf("    ├── quotes.q.%s [routing: %s]  ← consumers (shared subscription)\n", t, t)
		s += fmt.Sprintf("    │   quotes.wait.%s.{0..%d} — delayed retries per backoff tier, TTL → back to quotes.q.%s\n", t, delayTiers-1, t)
	}
	s += "\n    terminal DLQ store: Postgres (dlq_entries)\n"
	return s
}
