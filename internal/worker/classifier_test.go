package worker

import (
	"testing"

	"github.com/brokerwiz/quoterd/internal/domain"
)

func TestClassifier_KnownCodes(t *testing.T) {
	c := NewClassifier(nil)

	cases := []struct {
		code string
		want domain.Classification
	}{
		{"NETWORK_ERROR", domain.ClassTransient},
		{"STALE_ELEMENT", domain.ClassTransient},
		{"ELEMENT_WAIT_TIMEOUT", domain.ClassTransient},
		{domain.CodeTimeout, domain.ClassRetriable},
		{"RATE_LIMIT", domain.ClassRetriable},
		{"CAPTCHA_TIMEOUT", domain.ClassRetriable},
		{"AUTH_001", domain.ClassPermanent},
		{"INVALID_CREDENTIALS", domain.ClassPermanent},
		{"VALIDATION_ERROR", domain.ClassPermanent},
		{domain.CodeUnknownTarget, domain.ClassPermanent},
	}

	for _, tc := range cases {
		got := c.Classify(domain.Fail(tc.code, "boom"))
		if got != tc.want {
			t.Errorf("Classify(%s) = %s, want %s", tc.code, got, tc.want)
		}
	}
}

func TestClassifier_UnknownCodeIsRetriable(t *testing.T) {
	c := NewClassifier(nil)

	// Неизвестный код не должен выбрасывать job без повторов
	got := c.Classify(domain.Fail("SOMETHING_NEW_42", "boom"))
	if got != domain.ClassRetriable {
		t.Errorf("unknown code classified as %s, want RETRIABLE", got)
	}
}

func TestClassifier_CustomPolicy(t *testing.T) {
	c := NewClassifier(Policy{
		"MY_CODE": domain.ClassPermanent,
	})

	if got := c.Classify(domain.Fail("MY_CODE", "")); got != domain.ClassPermanent {
		t.Errorf("custom policy ignored: got %s", got)
	}
	// Дефолтная таблица не подмешивается к кастомной
	if got := c.Classify(domain.Fail("NETWORK_ERROR", "")); got != domain.ClassRetriable {
		t.Errorf("expected fallback RETRIABLE for code outside custom policy, got %s", got)
	}
}
