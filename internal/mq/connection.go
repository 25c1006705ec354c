package mq

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Connection — обёртка над AMQP соединением с автоматическим reconnect.
//
// Особенности:
//   - Ограниченное число попыток установить соединение при старте
//   - Автоматическое переподключение при разрыве с экспоненциальной задержкой
//   - Потолок попыток reconnect: при превышении соединение сообщает
//     фатальную ошибку через Fatal() — процесс должен завершиться,
//     рестарт делает supervisor
//   - Потокобезопасный доступ к каналам
//   - Graceful shutdown
type Connection struct {
	url         string
	maxAttempts int
	logger      *slog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel

	closed   bool
	closedCh chan struct{}

	// Для уведомления о переподключении
	reconnectCh chan struct{}

	// Фатальная ошибка: reconnect исчерпал попытки
	fatalCh chan error
}

// Connect устанавливает соединение с RabbitMQ.
//
// Делает до maxAttempts попыток с экспоненциальной задержкой;
// если все провалились, возвращает ошибку — процесс должен упасть,
// а не крутиться без брокера.
func Connect(url string, maxAttempts int, logger *slog.Logger) (*Connection, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	c := &Connection{
		url:         url,
		maxAttempts: maxAttempts,
		logger:      logger,
		closedCh:    make(chan struct{}),
		reconnectCh: make(chan struct{}, 1),
		fatalCh:     make(chan error, 1),
	}

	delay := time.Second
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lastErr = c.connect(); lastErr == nil {
			// Запускаем горутину для мониторинга соединения
			go c.watchConnection()
			return c, nil
		}

		c.logger.Warn("broker connect failed",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", lastErr,
		)
		if attempt < maxAttempts {
			time.Sleep(delay)
			delay = min(delay*2, 30*time.Second)
		}
	}

	return nil, fmt.Errorf("connect to broker after %d attempts: %w", maxAttempts, lastErr)
}

// connect устанавливает соединение и открывает канал.
func (c *Connection) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.conn = conn
	c.channel = ch

	c.logger.Info("connected to broker")

	return nil
}

// watchConnection следит за соединением и переподключается при разрыве.
func (c *Connection) watchConnection() {
	for {
		c.mu.RLock()
		if c.closed {
			c.mu.RUnlock()
			return
		}
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			time.Sleep(time.Second)
			continue
		}

		// Ждём уведомления о закрытии соединения
		notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-c.closedCh:
			return
		case err := <-notifyClose:
			if err != nil {
				c.logger.Warn("broker connection closed", "error", err)
			}

			if !c.reconnect() {
				return
			}
		}
	}
}

// reconnect пытается переподключиться с экспоненциальной задержкой.
//
// Возвращает false, если исчерпан потолок попыток: ошибка уходит
// в fatalCh, соединение дальше не восстанавливается.
func (c *Connection) reconnect() bool {
	delay := time.Second

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		c.mu.RLock()
		if c.closed {
			c.mu.RUnlock()
			return false
		}
		c.mu.RUnlock()

		c.logger.Info("attempting to reconnect",
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"delay", delay,
		)
		time.Sleep(delay)

		if err := c.connect(); err != nil {
			c.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
			delay = min(delay*2, 30*time.Second)
			continue
		}

		c.logger.Info("reconnected to broker")

		// Уведомляем о переподключении
		select {
		case c.reconnectCh <- struct{}{}:
		default:
		}

		return true
	}

	err := fmt.Errorf("broker reconnect exhausted after %d attempts", c.maxAttempts)
	c.logger.Error("reconnect exhausted, reporting fatal", "error", err)
	select {
	case c.fatalCh <- err:
	default:
	}
	return false
}

// Channel возвращает текущий AMQP канал.
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// ReconnectNotify возвращает канал для уведомлений о переподключении.
func (c *Connection) ReconnectNotify() <-chan struct{} {
	return c.reconnectCh
}

// Fatal возвращает канал фатальных ошибок соединения.
// Получение ошибки означает, что соединение не восстановится само:
// процесс должен завершиться для рестарта supervisor'ом.
func (c *Connection) Fatal() <-chan error {
	return c.fatalCh
}

// Close закрывает соединение.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.closedCh)

	var errs []error

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}

	c.logger.Info("broker connection closed")
	return nil
}

// IsConnected проверяет, установлено ли соединение.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		return false
	}

	return !c.conn.IsClosed()
}

// WithChannel выполняет функцию с текущим каналом.
func (c *Connection) WithChannel(fn func(ch *amqp.Channel) error) error {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	if ch == nil {
		return fmt.Errorf("no channel available")
	}

	return fn(ch)
}
