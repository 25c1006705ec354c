// Package session хранит session-артефакты target'ов (cookie jar,
// токены), разделяемые между воркерами. Executor читает артефакт перед
// логином и пишет обновлённый после успешной сессии.
//
// Модель блокировок: читатели не блокируются, писатели взаимно
// исключаются per-target через Redis-лок с TTL. Упавший писатель не
// блокирует target навсегда — его лок истекает сам (stale-lock
// detection через таймаут).
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Ошибки Session Store.
var (
	// ErrLockTimeout — не удалось взять write-лок за отведённое время.
	ErrLockTimeout = errors.New("session write lock timeout")

	// ErrNotLocked — unlock без действующего лока (истёк или чужой).
	ErrNotLocked = errors.New("session lock not held")
)

// Artifact — session-артефакт target'а.
//
// Хранится в Redis одним JSON-значением: данные и saved_at читаются
// и пишутся атомарно, читатель не может увидеть данные одной записи
// с меткой времени другой.
type Artifact struct {
	Target  string    `json:"target"`
	Data    []byte    `json:"data"`
	SavedAt time.Time `json:"saved_at"`
}

func encodeArtifact(a *Artifact) ([]byte, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode session artifact %s: %w", a.Target, err)
	}
	return raw, nil
}

func decodeArtifact(raw []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode session artifact: %w", err)
	}
	return &a, nil
}

// Store — разделяемый кэш session-артефактов поверх Redis.
type Store struct {
	rdb      *redis.Client
	lockTTL  time.Duration
	lockWait time.Duration
	logger   *slog.Logger
}

// Config — конфигурация Store.
type Config struct {
	// LockTTL — время жизни write-лока. Должен покрывать нормальную
	// запись с запасом; после истечения лок считается протухшим.
	LockTTL time.Duration

	// LockWait — сколько писатель готов ждать чужой лок.
	LockWait time.Duration

	Logger *slog.Logger
}

// New создаёт Store поверх готового Redis-клиента.
func New(rdb *redis.Client, cfg Config) *Store {
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	lockWait := cfg.LockWait
	if lockWait <= 0 {
		lockWait = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		rdb:      rdb,
		lockTTL:  lockTTL,
		lockWait: lockWait,
		logger:   logger,
	}
}

func artifactKey(target string) string { return "session:" + target }
func lockKey(target string) string     { return "session:" + target + ":lock" }

// Read возвращает session-артефакт target'а.
// Читатели не берут лок: артефакт лежит в одном значении, один GET
// отдаёт согласованную пару данные+saved_at даже при конкурентной
// записи (писатель заменяет значение атомарно).
func (s *Store) Read(ctx context.Context, target string) (*Artifact, bool, error) {
	raw, err := s.rdb.Get(ctx, artifactKey(target)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read session %s: %w", target, err)
	}

	artifact, err := decodeArtifact(raw)
	if err != nil {
		return nil, false, fmt.Errorf("read session %s: %w", target, err)
	}
	return artifact, true, nil
}

// Write сохраняет session-артефакт target'а под write-локом.
func (s *Store) Write(ctx context.Context, target string, data []byte) error {
	token, err := s.lock(ctx, target)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.unlock(ctx, target, token); err != nil && !errors.Is(err, ErrNotLocked) {
			s.logger.Warn("session unlock failed", "target", target, "error", err)
		}
	}()

	raw, err := encodeArtifact(&Artifact{
		Target:  target,
		Data:    data,
		SavedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, artifactKey(target), raw, 0).Err(); err != nil {
		return fmt.Errorf("write session %s: %w", target, err)
	}

	s.logger.Debug("session artifact saved", "target", target, "bytes", len(data))
	return nil
}

// Delete удаляет артефакт target'а (например, протухшую сессию).
func (s *Store) Delete(ctx context.Context, target string) error {
	if err := s.rdb.Del(ctx, artifactKey(target)).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", target, err)
	}
	return nil
}

// SavedAt возвращает время последнего сохранения артефакта.
func (s *Store) SavedAt(ctx context.Context, target string) (time.Time, bool, error) {
	artifact, ok, err := s.Read(ctx, target)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return artifact.SavedAt, true, nil
}

// lock берёт write-лок target'а: SET NX с TTL.
// Лок именной (случайный токен), чтобы unlock не снял чужой лок,
// взятый после истечения нашего.
func (s *Store) lock(ctx context.Context, target string) (string, error) {
	token := uuid.New().String()
	deadline := time.Now().Add(s.lockWait)

	for {
		ok, err := s.rdb.SetNX(ctx, lockKey(target), token, s.lockTTL).Result()
		if err != nil {
			return "", fmt.Errorf("acquire session lock %s: %w", target, err)
		}
		if ok {
			return token, nil
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: target %s", ErrLockTimeout, target)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// unlockScript снимает лок только если токен наш (check-and-delete атомарно).
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// unlock снимает write-лок, если он всё ещё наш.
func (s *Store) unlock(ctx context.Context, target, token string) error {
	n, err := unlockScript.Run(ctx, s.rdb, []string{lockKey(target)}, token).Int()
	if err != nil {
		return fmt.Errorf("release session lock %s: %w", target, err)
	}
	if n == 0 {
		// Лок истёк (писатель держал его дольше TTL) или взят заново
		// другим писателем. Это штатный исход stale-lock защиты.
		return ErrNotLocked
	}
	return nil
}
