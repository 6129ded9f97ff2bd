// Package middleware содержит промежуточные обработчики HTTP API и бота:
// логирование, восстановление после паники, rate-limiting, аутентификацию
// и идемпотентность.
package middleware

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// LogMessage логирует входящее сообщение бота.
// Записывает: user_id, chat_id, username, текст (первые 50 символов).
func LogMessage(userID, chatID int64, username, text string) {
	if r := []rune(text); len(r) > 50 {
		text = string(r[:50]) + "..."
	}

	log.WithFields(log.Fields{
		"user_id":  userID,
		"chat_id":  chatID,
		"username": username,
		"text":     text,
	}).Debug("Входящее сообщение")
}

// statusRecorder запоминает код ответа и тело.
type statusRecorder struct {
	http.ResponseWriter
	status int
	body   []byte
	keep   bool
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	if r.keep {
		r.body = append(r.body, b...)
	}
	return r.ResponseWriter.Write(b)
}

// RequestLogger логирует каждый HTTP-запрос.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		entry := log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   status,
			"duration": time.Since(start).String(),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("HTTP запрос")
			return
		}
		entry.Debug("HTTP запрос")
	})
}
