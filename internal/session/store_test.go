package session

import (
	"bytes"
	"testing"
	"time"
)

// Артефакт сериализуется одним значением: данные и saved_at неразделимы,
// читатель одним GET получает согласованную пару.
func TestArtifact_SingleValueRoundTrip(t *testing.T) {
	savedAt := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	raw, err := encodeArtifact(&Artifact{
		Target:  "hdi",
		Data:    []byte("cookie-jar"),
		SavedAt: savedAt,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	artifact, err := decodeArtifact(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if artifact.Target != "hdi" {
		t.Errorf("target = %s, want hdi", artifact.Target)
	}
	if !bytes.Equal(artifact.Data, []byte("cookie-jar")) {
		t.Errorf("data = %q, want cookie-jar", artifact.Data)
	}
	if !artifact.SavedAt.Equal(savedAt) {
		t.Errorf("saved_at = %s, want %s", artifact.SavedAt, savedAt)
	}
}

func TestDecodeArtifact_Malformed(t *testing.T) {
	if _, err := decodeArtifact([]byte(`{broken`)); err == nil {
		t.Error("expected error for malformed artifact value")
	}
}
