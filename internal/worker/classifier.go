package worker

import "github.com/brokerwiz/quoterd/internal/domain"

// Policy — таблица соответствия кодов ошибок классификациям.
// Расширяется без изменения кода классификатора.
type Policy map[string]domain.Classification

// DefaultPolicy возвращает policy-таблицу для известных кодов
// bot-executor'ов.
//
// Правила:
//   - TRANSIENT: сетевые сбои и протухшие элементы страницы —
//     немедленный повтор часто помогает
//   - RETRIABLE: исчерпание ресурсов, rate limit, таймауты выполнения —
//     нужен отложенный повтор с backoff
//   - PERMANENT: креды, валидация, нереализованный бот — повтор бесполезен
func DefaultPolicy() Policy {
	return Policy{
		// Transient
		"NETWORK_ERROR":        domain.ClassTransient,
		"CONNECTION_RESET":     domain.ClassTransient,
		"DNS_FAILURE":          domain.ClassTransient,
		"STALE_ELEMENT":        domain.ClassTransient,
		"ELEMENT_WAIT_TIMEOUT": domain.ClassTransient,

		// Retriable
		domain.CodeTimeout:   domain.ClassRetriable,
		"CAPTCHA_TIMEOUT":    domain.ClassRetriable,
		"RATE_LIMIT":         domain.ClassRetriable,
		"RESOURCE_EXHAUSTED": domain.ClassRetriable,
		"ELEMENT_NOT_FOUND":  domain.ClassRetriable,
		"CLICK_INTERCEPTED":  domain.ClassRetriable,

		// Permanent
		"AUTH_001":               domain.ClassPermanent,
		"AUTHENTICATION_FAILED":  domain.ClassPermanent,
		"INVALID_CREDENTIALS":    domain.ClassPermanent,
		"VALIDATION_ERROR":       domain.ClassPermanent,
		"INVALID_PAYLOAD":        domain.ClassPermanent,
		domain.CodeUnknownTarget: domain.ClassPermanent,
	}
}

// Classifier отображает Outcome в классификацию.
// Чистая функция от policy-таблицы: без I/O, детерминированная.
type Classifier struct {
	policy Policy
}

// NewClassifier создаёт классификатор с заданной policy.
// nil — DefaultPolicy().
func NewClassifier(policy Policy) *Classifier {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Classifier{policy: policy}
}

// Classify возвращает классификацию для Outcome.
//
// Неизвестный код — RETRIABLE: безопасный default, job никогда не
// выбрасывается без единой попытки повтора.
func (c *Classifier) Classify(out domain.Outcome) domain.Classification {
	if class, ok := c.policy[out.Code]; ok {
		return class
	}
	return domain.ClassRetriable
}
