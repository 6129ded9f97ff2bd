package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// RecoverFromPanic вызывается через defer в обработчиках бота и фоновых задачах.
func RecoverFromPanic() {
	if r := recover(); r != nil {
		logPanic(r)
	}
}

// Recoverer — то же самое для HTTP: паника превращается в 500.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logPanic(rec)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func logPanic(r any) {
	log.WithFields(log.Fields{
		"component": "panic_recovery",
		"panic":     fmt.Sprintf("%v", r),
		"stack":     string(debug.Stack()),
	}).Error("ПАНИКА в обработчике — восстановлено")
}
