package worker

import (
	"context"
	"fmt"

	"github.com/brokerwiz/quoterd/internal/domain"
)

// Executor — граница с внешней автоматизацией target'а.
//
// Executor владеет всей target-специфичной логикой (логин, формы,
// captcha, PDF) и обязан быть идемпотентным по (job_id, attempt):
// брокер может доставить одно сообщение дважды.
//
// Ошибка выполнения — это данные (Outcome), а не panic: решения о
// retry/DLQ принимаются по Outcome.Code в классификаторе.
type Executor interface {
	Execute(ctx context.Context, msg *domain.JobMessage) domain.Outcome
}

// Registry — статическая таблица target → Executor.
//
// Заполняется один раз при старте процесса; динамического поиска
// реализаций по имени в runtime нет.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register добавляет executor для target.
func (r *Registry) Register(target string, executor Executor) {
	r.executors[target] = executor
}

// Get возвращает executor для target.
func (r *Registry) Get(target string) (Executor, error) {
	executor, ok := r.executors[target]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}
	return executor, nil
}

// Targets возвращает список зарегистрированных target'ов.
func (r *Registry) Targets() []string {
	targets := make([]string, 0, len(r.executors))
	for target := range r.executors {
		targets = append(targets, target)
	}
	return targets
}
