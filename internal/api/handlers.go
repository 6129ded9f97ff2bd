package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"bintex.app/engine/internal/common"
	"bintex.app/engine/internal/features/accounts"
	"bintex.app/engine/internal/features/bonus"
	"bintex.app/engine/internal/features/ledger"
	"bintex.app/engine/internal/features/purchase"
	"bintex.app/engine/internal/middleware"
)

// --- DTO ---

type registerRequest struct {
	ReferralCode string `json:"referralCode"`
	DisplayName  string `json:"displayName"`
}

type purchaseRequest struct {
	Pack        string           `json:"pack"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	DailyReturn *decimal.Decimal `json:"dailyReturn,omitempty"`
}

type withdrawalRequest struct {
	Source ledger.Balance  `json:"source"`
	Amount decimal.Decimal `json:"amount"`
}

type depositRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

type grantSpinsRequest struct {
	Count int `json:"count"`
}

type accountView struct {
	Account      *ledger.Account `json:"account"`
	ReferralLink string          `json:"referralLink"`
}

type transactionView struct {
	Account     *ledger.Account    `json:"account"`
	Transaction ledger.Transaction `json:"transaction"`
}

type bonusView struct {
	Awarded []string           `json:"awarded"`
	Network bonus.NetworkStats `json:"network"`
}

type wheelSegmentView struct {
	Kind   string          `json:"kind"`
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
	Pack   string          `json:"pack,omitempty"`
	Odds   int             `json:"oddsPerMille"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errValidation, err)
	}
	return nil
}

// --- Публичные ---

func (h *Handler) listPacks(w http.ResponseWriter, r *http.Request) {
	packs := h.svc.Catalog.List()
	if len(packs) == 0 {
		writeError(w, r, fmt.Errorf("%w: каталог пакетов пуст", common.ErrConfiguration))
		return
	}
	writeOK(w, http.StatusOK, packs)
}

func (h *Handler) wheelTable(w http.ResponseWriter, r *http.Request) {
	table := h.svc.Wheel.Table()
	segments := table.Segments()
	if len(segments) == 0 {
		writeError(w, r, fmt.Errorf("%w: колесо не настроено", common.ErrConfiguration))
		return
	}
	views := make([]wheelSegmentView, 0, len(segments))
	for i, seg := range segments {
		views = append(views, wheelSegmentView{
			Kind:   string(seg.Kind),
			Label:  seg.Label,
			Amount: seg.Amount,
			Pack:   seg.Pack,
			Odds:   table.Odds(i),
		})
	}
	writeOK(w, http.StatusOK, views)
}

// --- Аккаунт ---

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	acc, err := h.svc.Accounts.Register(r.Context(), accounts.RegisterInput{
		ID:           middleware.AccountID(r.Context()),
		DisplayName:  req.DisplayName,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, accountView{Account: acc, ReferralLink: accounts.ReferralLink(acc.ReferralCode)})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	acc, err := h.svc.Accounts.Get(r.Context(), middleware.AccountID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, accountView{Account: acc, ReferralLink: accounts.ReferralLink(acc.ReferralCode)})
}

func (h *Handler) transactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, fmt.Errorf("%w: limit должен быть положительным числом", errValidation))
			return
		}
		limit = n
	}
	txs, err := h.svc.Accounts.History(r.Context(), middleware.AccountID(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	writeOK(w, http.StatusOK, txs)
}

// --- Операции движка ---

func (h *Handler) purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Pack) == "" {
		writeError(w, r, fmt.Errorf("%w: не указан пакет", errValidation))
		return
	}
	res, err := h.svc.Purchases.PurchasePack(r.Context(), purchase.Request{
		AccountID:           middleware.AccountID(r.Context()),
		PackName:            req.Pack,
		DeclaredPrice:       req.Price,
		DeclaredDailyReturn: req.DailyReturn,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, res)
}

func (h *Handler) accrue(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Rewards.AccrueRewards(r.Context(), middleware.AccountID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, res)
}

func (h *Handler) network(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Bonuses.Network(r.Context(), middleware.AccountID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, stats)
}

func (h *Handler) evaluateBonuses(w http.ResponseWriter, r *http.Request) {
	id := middleware.AccountID(r.Context())
	awarded, err := h.svc.Bonuses.EvaluateBonuses(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := h.svc.Bonuses.Network(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if awarded == nil {
		awarded = []string{}
	}
	writeOK(w, http.StatusOK, bonusView{Awarded: awarded, Network: stats})
}

func (h *Handler) spin(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Wheel.SpinWheel(r.Context(), middleware.AccountID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, out)
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	acc, tx, err := h.svc.Accounts.RequestWithdrawal(r.Context(), middleware.AccountID(r.Context()), req.Source, req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, transactionView{Account: acc, Transaction: tx})
}

// --- Админ ---

func (h *Handler) adminDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	acc, tx, err := h.svc.Accounts.Deposit(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Reference)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, transactionView{Account: acc, Transaction: tx})
}

func (h *Handler) adminGrantSpins(w http.ResponseWriter, r *http.Request) {
	var req grantSpinsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	acc, err := h.svc.Wheel.GrantSpins(r.Context(), chi.URLParam(r, "id"), req.Count)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, acc)
}
