package api

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"bintex.app/engine/internal/common"
)

// Response — единый конверт ответа API.
// Data присутствует всегда, при ошибке — null.
type Response struct {
	Status  int         `json:"status"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// errorMapping сопоставляет ошибку движка коду ответа.
type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{common.ErrUnknownPack, http.StatusNotFound, "UNKNOWN_PACK"},
	{common.ErrAccountNotFound, http.StatusNotFound, "ACCOUNT_NOT_FOUND"},
	{common.ErrUnknownReferralCode, http.StatusNotFound, "UNKNOWN_REFERRAL_CODE"},
	{common.ErrPackMismatch, http.StatusConflict, "PACK_MISMATCH"},
	{common.ErrDuplicateAccount, http.StatusConflict, "DUPLICATE_ACCOUNT"},
	{common.ErrReferralCycle, http.StatusConflict, "REFERRAL_CYCLE"},
	{common.ErrInsufficientBalance, http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE"},
	{common.ErrNoSpinsAvailable, http.StatusUnprocessableEntity, "NO_SPINS_AVAILABLE"},
	{common.ErrWithdrawalTooSmall, http.StatusUnprocessableEntity, "WITHDRAWAL_TOO_SMALL"},
	{common.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
	{common.ErrStoreUnavailable, http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
	{common.ErrConcurrentModification, http.StatusServiceUnavailable, "CONCURRENT_MODIFICATION"},
	{common.ErrConfiguration, http.StatusInternalServerError, "CONFIGURATION_ERROR"},
}

// errValidation — некорректный запрос (тело, параметры).
var errValidation = errors.New("некорректный запрос")

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.WithError(err).Warn("Не удалось записать ответ")
	}
}

func writeOK(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, Response{Status: status, Code: "OK", Message: "ok", Data: data})
}

// writeError переводит ошибку в HTTP-ответ. Неизвестные ошибки — 500 без деталей.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := http.StatusInternalServerError, "INTERNAL", "внутренняя ошибка"

	if errors.Is(err, errValidation) {
		status, code, message = http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	} else {
		for _, m := range errorMappings {
			if errors.Is(err, m.target) {
				status, code, message = m.status, m.code, err.Error()
				break
			}
		}
	}

	entry := log.WithError(err).WithFields(log.Fields{
		"path":   r.URL.Path,
		"status": status,
		"code":   code,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("Ошибка обработки запроса")
	} else {
		entry.Debug("Запрос отклонён")
	}

	writeJSON(w, status, Response{Status: status, Code: code, Message: message})
}
