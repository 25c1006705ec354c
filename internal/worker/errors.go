package worker

import "errors"

// Ошибки воркера.
var (
	// ErrResourceUnavailable — нет свободного slot для target.
	// Это не ошибка выполнения: доставка возвращается в очередь
	// (nack+requeue) без инкремента attempt.
	ErrResourceUnavailable = errors.New("resource unavailable")

	// ErrUnknownTarget — для target не зарегистрирован executor.
	ErrUnknownTarget = errors.New("unknown target")
)
