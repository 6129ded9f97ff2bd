package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bintex.app/engine/internal/features/accounts"
	"bintex.app/engine/internal/features/bonus"
	"bintex.app/engine/internal/features/catalog"
	"bintex.app/engine/internal/features/commission"
	"bintex.app/engine/internal/features/ledger"
	"bintex.app/engine/internal/features/purchase"
	"bintex.app/engine/internal/features/rewards"
	"bintex.app/engine/internal/features/wheel"
	"bintex.app/engine/internal/middleware"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testAdminKey = "admin-key"
)

type testEnv struct {
	router http.Handler
	auth   *middleware.Authenticator
	store  *ledger.MemoryStore
}

type envelope struct {
	Status  int             `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := ledger.NewMemoryStore()
	retry := ledger.RetryPolicy{MaxAttempts: 3}

	cat, err := catalog.New([]catalog.Pack{
		{Name: "Starter", Price: decimal.NewFromInt(2000), DailyReturn: decimal.NewFromInt(400)},
		{Name: "Gold", Price: decimal.NewFromInt(100000), DailyReturn: decimal.NewFromInt(20000)},
	})
	require.NoError(t, err)

	table, err := wheel.NewTable([]wheel.Segment{
		{UpTo: 999, Kind: wheel.PrizeCash, Amount: decimal.NewFromInt(50)},
	}, cat)
	require.NoError(t, err)

	rates := []decimal.Decimal{decimal.RequireFromString("0.10")}
	bonuses := bonus.NewService(store, []bonus.Tier{
		{ID: "l1_1", Metric: bonus.MetricL1Active, Threshold: 1, Amount: decimal.NewFromInt(500)},
	}, retry, nil)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := middleware.NewRateLimiter(1000, time.Minute)
	t.Cleanup(limiter.Close)

	auth := middleware.NewAuthenticator(testSecret, "")
	router := NewRouter(Config{
		Services: Services{
			Accounts:  accounts.NewService(store, retry, "BIN", decimal.NewFromInt(1000)),
			Catalog:   cat,
			Purchases: purchase.NewService(store, cat, commission.NewService(store, rates, retry, nil), retry, nil, 1),
			Rewards:   rewards.NewService(store, bonuses, retry, nil),
			Bonuses:   bonuses,
			Wheel:     wheel.NewService(store, table, retry, nil),
		},
		Authenticator: auth,
		RateLimiter:   limiter,
		Idempotency:   middleware.NewIdempotency(client, time.Hour),
		AdminKeyHash:  middleware.HashArgon2id(testAdminKey, []byte("fixed-test-salt!")),
	})

	return &testEnv{router: router, auth: auth, store: store}
}

type call struct {
	method  string
	path    string
	body    interface{}
	account string
	admin   bool
	idemKey string
	rawBody string
}

func (e *testEnv) do(t *testing.T, c call) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var body []byte
	switch {
	case c.rawBody != "":
		body = []byte(c.rawBody)
	case c.body != nil:
		var err error
		body, err = json.Marshal(c.body)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(c.method, c.path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if c.account != "" {
		token, err := e.auth.Issue(c.account, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.admin {
		req.Header.Set(middleware.AdminKeyHeader, testAdminKey)
	}
	if c.idemKey != "" {
		req.Header.Set(middleware.IdempotencyHeader, c.idemKey)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func (e *testEnv) register(t *testing.T, id, code string) ledger.Account {
	t.Helper()
	rec, env := e.do(t, call{
		method:  http.MethodPost,
		path:    "/v1/accounts",
		account: id,
		body:    map[string]string{"referralCode": code, "displayName": id},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var view struct {
		Account      ledger.Account `json:"account"`
		ReferralLink string         `json:"referralLink"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "https://bintex.app/ref/"+view.Account.ReferralCode, view.ReferralLink)
	return view.Account
}

func (e *testEnv) deposit(t *testing.T, id string, amount int64) {
	t.Helper()
	rec, _ := e.do(t, call{
		method: http.MethodPost,
		path:   "/v1/admin/accounts/" + id + "/deposits",
		admin:  true,
		body:   map[string]string{"amount": decimal.NewFromInt(amount).String(), "reference": "MoMo-1"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestPublicRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, call{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, resp := env.do(t, call{method: http.MethodGet, path: "/v1/packs"})
	require.Equal(t, http.StatusOK, rec.Code)
	var packs []catalog.Pack
	require.NoError(t, json.Unmarshal(resp.Data, &packs))
	assert.Len(t, packs, 2)

	rec, resp = env.do(t, call{method: http.MethodGet, path: "/v1/wheel"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(resp.Data), `"oddsPerMille":1000`)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, call{method: http.MethodGet, path: "/v1/me"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, call{method: http.MethodPost, path: "/v1/admin/accounts/x/deposits", body: map[string]string{"amount": "10"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPurchaseFlow(t *testing.T) {
	env := newTestEnv(t)

	sponsor := env.register(t, "sponsor", "")
	env.register(t, "buyer", sponsor.ReferralCode)

	rec, resp := env.do(t, call{method: http.MethodGet, path: "/v1/me", account: "buyer"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", resp.Code)

	// Нехватка средств ничего не меняет
	rec, resp = env.do(t, call{method: http.MethodPost, path: "/v1/me/purchases", account: "buyer", body: map[string]string{"pack": "Starter"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INSUFFICIENT_BALANCE", resp.Code)
	assert.Equal(t, "null", string(resp.Data))

	env.deposit(t, "buyer", 5000)

	rec, resp = env.do(t, call{method: http.MethodPost, path: "/v1/me/purchases", account: "buyer", body: map[string]string{"pack": "Royal"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "UNKNOWN_PACK", resp.Code)

	rec, resp = env.do(t, call{method: http.MethodPost, path: "/v1/me/purchases", account: "buyer", body: map[string]string{"pack": "Starter", "price": "1999"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "PACK_MISMATCH", resp.Code)

	rec, resp = env.do(t, call{
		method:  http.MethodPost,
		path:    "/v1/me/purchases",
		account: "buyer",
		idemKey: "buy-1",
		body:    map[string]string{"pack": "starter", "price": "2000"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res purchase.Result
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.True(t, res.Account.BalanceMain.Equal(decimal.NewFromInt(3000)))
	require.Len(t, res.Commissions, 1)
	assert.True(t, res.Commissions[0].Amount.Equal(decimal.NewFromInt(200)))

	// Повтор с тем же ключом не списывает второй раз
	rec, _ = env.do(t, call{
		method:  http.MethodPost,
		path:    "/v1/me/purchases",
		account: "buyer",
		idemKey: "buy-1",
		body:    map[string]string{"pack": "starter", "price": "2000"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("X-Idempotency-Replayed"))

	buyer, err := env.store.Get(t.Context(), "buyer")
	require.NoError(t, err)
	assert.True(t, buyer.BalanceMain.Equal(decimal.NewFromInt(3000)))
	assert.Len(t, buyer.ActivePacks, 1)

	// Спонсор получил комиссию и может забрать бонус за активного реферала
	rec, resp = env.do(t, call{method: http.MethodPost, path: "/v1/me/bonuses", account: "sponsor"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, string(resp.Data), `"awarded":["l1_1"]`)

	rec, resp = env.do(t, call{method: http.MethodGet, path: "/v1/me/transactions?limit=10", account: "sponsor"})
	require.Equal(t, http.StatusOK, rec.Code)
	var txs []ledger.Transaction
	require.NoError(t, json.Unmarshal(resp.Data, &txs))
	require.Len(t, txs, 2)
	assert.Equal(t, ledger.TxCommission, txs[0].Type)
	assert.Equal(t, ledger.TxBonus, txs[1].Type)

	rec, _ = env.do(t, call{method: http.MethodGet, path: "/v1/me/transactions?limit=abc", account: "sponsor"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSpinsAndWithdrawals(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "player", "")

	rec, resp := env.do(t, call{method: http.MethodPost, path: "/v1/me/spins", account: "player"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "NO_SPINS_AVAILABLE", resp.Code)

	rec, _ = env.do(t, call{method: http.MethodPost, path: "/v1/admin/accounts/player/spins", admin: true, body: map[string]int{"count": 1}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, resp = env.do(t, call{method: http.MethodPost, path: "/v1/me/spins", account: "player"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out wheel.Outcome
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	assert.Equal(t, 0, out.Account.SpinCredits)
	assert.True(t, out.Account.BalanceGains.Equal(decimal.NewFromInt(50)))

	rec, resp = env.do(t, call{method: http.MethodPost, path: "/v1/me/withdrawals", account: "player", body: map[string]string{"source": "gains", "amount": "50"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "WITHDRAWAL_TOO_SMALL", resp.Code)

	rec, resp = env.do(t, call{method: http.MethodPost, path: "/v1/me/withdrawals", account: "player", rawBody: `{"source":`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Code)
}

func TestRegisterErrors(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "dup", "")

	rec, resp := env.do(t, call{method: http.MethodPost, path: "/v1/accounts", account: "dup", body: map[string]string{}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DUPLICATE_ACCOUNT", resp.Code)

	rec, resp = env.do(t, call{method: http.MethodPost, path: "/v1/accounts", account: "new", body: map[string]string{"referralCode": "BIN0001"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "UNKNOWN_REFERRAL_CODE", resp.Code)

	rec, resp = env.do(t, call{method: http.MethodGet, path: "/v1/me", account: "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ACCOUNT_NOT_FOUND", resp.Code)
}
