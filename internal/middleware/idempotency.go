package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

// IdempotencyHeader — заголовок с ключом идемпотентности.
const IdempotencyHeader = "Idempotency-Key"

const pendingMarker = "pending"

// storedResponse — ответ, сохранённый в Redis для повтора.
type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

// Idempotency повторяет сохранённый ответ для уже выполненного ключа.
// Ключ действует в пределах аккаунта, метода и пути. Пока запрос
// выполняется, повтор с тем же ключом получает 409. Ответы 5xx не
// сохраняются, такой запрос можно повторить.
type Idempotency struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotency создаёт middleware. client == nil отключает кэш.
func NewIdempotency(client *redis.Client, ttl time.Duration) *Idempotency {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Idempotency{client: client, ttl: ttl}
}

func (i *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyHeader)
		if key == "" || i.client == nil {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > 128 {
			writeJSONError(w, http.StatusBadRequest, "IDEMPOTENCY_KEY_INVALID", "Idempotency-Key слишком длинный")
			return
		}

		ctx := r.Context()
		cacheKey := "idem:" + AccountID(ctx) + ":" + r.Method + ":" + r.URL.Path + ":" + key
		fields := log.Fields{"key": key, "path": r.URL.Path}

		acquired, err := i.client.SetNX(ctx, cacheKey, pendingMarker, i.ttl).Result()
		if err != nil {
			// Без Redis нельзя гарантировать однократность денежной операции
			log.WithError(err).WithFields(fields).Error("Redis недоступен для идемпотентности")
			writeJSONError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "сервис временно недоступен")
			return
		}

		if !acquired {
			i.replay(w, r, cacheKey, fields)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, keep: true}
		next.ServeHTTP(rec, r)

		// Операция уже выполнена: результат сохраняем, даже если клиент отключился
		storeCtx := context.WithoutCancel(ctx)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		if status >= http.StatusInternalServerError {
			if err := i.client.Del(storeCtx, cacheKey).Err(); err != nil {
				log.WithError(err).WithFields(fields).Warn("Не удалось снять ключ идемпотентности")
			}
			return
		}

		payload, err := json.Marshal(storedResponse{
			Status:      status,
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.body,
		})
		if err == nil {
			err = i.client.Set(storeCtx, cacheKey, payload, i.ttl).Err()
		}
		if err != nil {
			log.WithError(err).WithFields(fields).Error("Не удалось сохранить ответ идемпотентности")
			return
		}
		log.WithFields(fields).Debug("Ответ сохранён по ключу идемпотентности")
	})
}

func (i *Idempotency) replay(w http.ResponseWriter, r *http.Request, cacheKey string, fields log.Fields) {
	raw, err := i.client.Get(r.Context(), cacheKey).Bytes()
	if errors.Is(err, redis.Nil) || (err == nil && string(raw) == pendingMarker) {
		writeJSONError(w, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", "запрос с этим ключом ещё выполняется")
		return
	}
	if err != nil {
		log.WithError(err).WithFields(fields).Error("Redis недоступен для идемпотентности")
		writeJSONError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "сервис временно недоступен")
		return
	}

	var stored storedResponse
	if err := json.Unmarshal(raw, &stored); err != nil {
		log.WithError(err).WithFields(fields).Error("Повреждённая запись идемпотентности")
		writeJSONError(w, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", "запрос с этим ключом уже обработан")
		return
	}

	log.WithFields(fields).Info("Повтор ответа по ключу идемпотентности")
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set("X-Idempotency-Replayed", "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "error",
		"code":    code,
		"message": message,
	})
}
