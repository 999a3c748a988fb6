package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nhowze/overunder/internal/adapters/auth"
	"github.com/nhowze/overunder/internal/adapters/lock"
	"github.com/nhowze/overunder/internal/adapters/storage"
	"github.com/nhowze/overunder/internal/application/settlement"
	"github.com/nhowze/overunder/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

type apiHarness struct {
	t      *testing.T
	srv    *Server
	clock  *fixedClock
	admin  *auth.Signer
	oracle *auth.Signer
	alice  *auth.Signer
	bob    *auth.Signer
}

func newAPI(t *testing.T) *apiHarness {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	signers := make([]*auth.Signer, 4)
	for i := range signers {
		signers[i], err = auth.GenerateSigner()
		require.NoError(t, err)
	}

	clock := &fixedClock{now: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)}
	eng, err := settlement.New(store, lock.NewMemory(), settlement.Config{
		Admin:         signers[0].Address(),
		FeeBPS:        settlement.DefaultFeeBPS,
		RoyaltyBPS:    settlement.DefaultRoyaltyBPS,
		DustThreshold: settlement.DefaultDustThreshold,
	}, settlement.WithClock(clock))
	require.NoError(t, err)

	srv := NewServer(Config{RatePerSec: 1000, Burst: 1000}, eng, store, store.Ping, nil)
	srv.now = func() time.Time { return clock.now }

	return &apiHarness{t: t, srv: srv, clock: clock,
		admin: signers[0], oracle: signers[1], alice: signers[2], bob: signers[3]}
}

func (h *apiHarness) do(signer *auth.Signer, method, path string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(h.t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	if signer != nil {
		headers, err := signer.SignRequest(method, path, raw, h.clock.now)
		require.NoError(h.t, err)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

// send replays raw with exactly the given headers.
func (h *apiHarness) send(method, path string, raw []byte, headers map[string]string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	h.t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *apiHarness) balanceOf(s *auth.Signer) uint64 {
	h.t.Helper()
	rec := h.do(nil, http.MethodGet, "/v1/accounts/"+s.Address().Hex()+"/balance", nil)
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeInto[struct {
		Balance uint64 `json:"balance"`
	}](h.t, rec).Balance
}

func decodeInto[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (h *apiHarness) openPool() PoolView {
	h.t.Helper()
	rec := h.do(h.admin, http.MethodPost, "/v1/pools", OpenPoolBody{
		FixtureID:  77,
		Sport:      "NBA",
		Subject:    domain.Address{0x23}.Hex(),
		StatMetric: "rebounds",
		Threshold:  10,
		Deadline:   h.clock.now.Add(time.Hour),
		Authority:  h.oracle.Address().Hex(),
	})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeInto[PoolView](h.t, rec)
}

func (h *apiHarness) fund(s *auth.Signer, amount uint64) {
	h.t.Helper()
	rec := h.do(h.admin, http.MethodPost, "/v1/deposits", DepositBody{To: s.Address().Hex(), Amount: amount})
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAPI_Health(t *testing.T) {
	h := newAPI(t)
	rec := h.do(nil, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestAPI_FullLifecycle(t *testing.T) {
	h := newAPI(t)
	pool := h.openPool()
	assert.Equal(t, h.oracle.Address().Hex(), pool.Authority)
	h.fund(h.alice, 10_000)
	h.fund(h.bob, 10_000)

	rec := h.do(h.alice, http.MethodPost, "/v1/pools/"+pool.ID+"/bets", BetBody{Gross: 1000, Side: "over"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	receipt := decodeInto[ReceiptView](t, rec)
	assert.Equal(t, uint64(950), receipt.Amount)
	assert.Equal(t, h.alice.Address().Hex(), receipt.Owner)

	rec = h.do(h.bob, http.MethodPost, "/v1/pools/"+pool.ID+"/bets", BetBody{Gross: 1000, Side: "under"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = h.do(nil, http.MethodGet, "/v1/pools/"+pool.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeInto[PoolView](t, rec)
	assert.Equal(t, uint64(950), got.StakeOver)
	assert.Equal(t, uint64(950), got.StakeUnder)
	assert.Equal(t, uint64(100), got.FeesAccrued)

	h.clock.now = h.clock.now.Add(2 * time.Hour)
	rec = h.do(h.alice, http.MethodPost, "/v1/pools/"+pool.ID+"/result", ResultBody{Outcome: "over_wins", FinalStat: 12})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(h.oracle, http.MethodPost, "/v1/pools/"+pool.ID+"/result", ResultBody{Outcome: "over_wins", FinalStat: 12})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(h.alice, http.MethodPost, "/v1/receipts/"+receipt.ID+"/claim", ClaimBody{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	claim := decodeInto[map[string]any](t, rec)
	assert.Equal(t, "WIN", claim["settlement"])
	assert.EqualValues(t, 1900, claim["payout"])

	rec = h.do(h.alice, http.MethodPost, "/v1/receipts/"+receipt.ID+"/claim", ClaimBody{})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(nil, http.MethodGet, "/v1/accounts/"+h.alice.Address().Hex()+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bal := decodeInto[map[string]any](t, rec)
	assert.EqualValues(t, 10_000-1000+1900, bal["balance"])

	rec = h.do(nil, http.MethodGet, "/v1/pools/"+pool.ID+"/receipts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeInto[[]ReceiptView](t, rec), 2)
}

func TestAPI_EscrowFlow(t *testing.T) {
	h := newAPI(t)
	pool := h.openPool()
	h.fund(h.alice, 10_000)
	h.fund(h.bob, 10_000)

	rec := h.do(h.alice, http.MethodPost, "/v1/pools/"+pool.ID+"/bets", BetBody{Gross: 1000, Side: "under"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	receipt := decodeInto[ReceiptView](t, rec)

	rec = h.do(h.bob, http.MethodPost, "/v1/receipts/"+receipt.ID+"/list", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(h.alice, http.MethodPost, "/v1/receipts/"+receipt.ID+"/list", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = h.do(nil, http.MethodGet, "/v1/receipts/"+receipt.ID+"/listing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, h.alice.Address().Hex(), decodeInto[ListingView](t, rec).Seller)

	rec = h.do(h.bob, http.MethodPost, "/v1/receipts/"+receipt.ID+"/buy", BuyBody{Price: 1000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	bought := decodeInto[ReceiptView](t, rec)
	assert.Equal(t, h.bob.Address().Hex(), bought.Owner)
	assert.Equal(t, "unlisted", bought.State)

	rec = h.do(h.bob, http.MethodPost, "/v1/receipts/"+receipt.ID+"/delist", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_SignatureRequired(t *testing.T) {
	h := newAPI(t)

	rec := h.do(nil, http.MethodPost, "/v1/deposits", DepositBody{To: h.alice.Address().Hex(), Amount: 1})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_TamperedBodyChangesCaller(t *testing.T) {
	h := newAPI(t)
	path := "/v1/deposits"
	signed, _ := json.Marshal(DepositBody{To: h.alice.Address().Hex(), Amount: 1})
	headers, err := h.admin.SignRequest(http.MethodPost, path, signed, h.clock.now)
	require.NoError(t, err)

	tampered, _ := json.Marshal(DepositBody{To: h.alice.Address().Hex(), Amount: 1_000_000})
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(tampered))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)

	// the signature recovers some other address, which is not the admin
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_StaleTimestamp(t *testing.T) {
	h := newAPI(t)
	path := "/v1/deposits"
	raw, _ := json.Marshal(DepositBody{To: h.alice.Address().Hex(), Amount: 1})
	headers, err := h.admin.SignRequest(http.MethodPost, path, raw, h.clock.now.Add(-10*time.Minute))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_BadInput(t *testing.T) {
	h := newAPI(t)
	pool := h.openPool()

	rec := h.do(h.alice, http.MethodPost, "/v1/pools/"+pool.ID+"/bets", BetBody{Gross: 10, Side: "sideways"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(h.alice, http.MethodPost, "/v1/pools/"+pool.ID+"/bets", BetBody{Gross: 10, Side: "over"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "no funds")

	rec = h.do(nil, http.MethodGet, "/v1/pools/nothex", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(nil, http.MethodGet, "/v1/pools/"+domain.Hash{0x01}.Hex(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_RateLimit(t *testing.T) {
	h := newAPI(t)
	h.srv.limits = newLimiterSet(0.001, 2)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := h.do(h.alice, http.MethodPost, "/v1/deposits", DepositBody{To: h.alice.Address().Hex(), Amount: 1})
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusForbidden, http.StatusForbidden, http.StatusTooManyRequests}, codes)
}

func TestAPI_ReplayedRequestIsRejected(t *testing.T) {
	h := newAPI(t)
	path := "/v1/deposits"
	raw, _ := json.Marshal(DepositBody{To: h.alice.Address().Hex(), Amount: 500})
	headers, err := h.admin.SignRequest(http.MethodPost, path, raw, h.clock.now)
	require.NoError(t, err)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, h.send(http.MethodPost, path, raw, headers, nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusConflict, http.StatusConflict}, codes)
	assert.Equal(t, uint64(500), h.balanceOf(h.alice))

	// the same deposit signed again is a new request
	h.fund(h.alice, 500)
	assert.Equal(t, uint64(1000), h.balanceOf(h.alice))
}

func TestAPI_ReplayWithSwappedNonceFailsSignature(t *testing.T) {
	h := newAPI(t)
	path := "/v1/deposits"
	raw, _ := json.Marshal(DepositBody{To: h.alice.Address().Hex(), Amount: 500})
	headers, err := h.admin.SignRequest(http.MethodPost, path, raw, h.clock.now)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, h.send(http.MethodPost, path, raw, headers, nil).Code)

	// a new nonce under the old signature recovers a stranger
	rec := h.send(http.MethodPost, path, raw, headers, func(r *http.Request) {
		r.Header.Set(auth.HeaderNonce, "another-nonce")
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.send(http.MethodPost, path, raw, headers, func(r *http.Request) {
		r.Header.Del(auth.HeaderNonce)
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, uint64(500), h.balanceOf(h.alice))
}

func TestAPI_RateLimitAppliesPerClientAddress(t *testing.T) {
	h := newAPI(t)
	h.srv.limits = newLimiterSet(0.001, 2)

	throttled := 0
	for i := 0; i < 20; i++ {
		fresh, err := auth.GenerateSigner()
		require.NoError(t, err)
		rec := h.do(fresh, http.MethodPost, "/v1/deposits", DepositBody{To: fresh.Address().Hex(), Amount: 1})
		if rec.Code == http.StatusTooManyRequests {
			throttled++
		}
	}
	assert.Equal(t, 18, throttled, "new keys from one address share a bucket")
	assert.Equal(t, 1, h.srv.limits.size())
}

func TestAPI_RateLimitForwardedFor(t *testing.T) {
	h := newAPI(t)
	h.srv.limits = newLimiterSet(0.001, 1)
	raw, _ := json.Marshal(DepositBody{To: h.alice.Address().Hex(), Amount: 1})

	sendFrom := func(ip string) int {
		headers, err := h.alice.SignRequest(http.MethodPost, "/v1/deposits", raw, h.clock.now)
		require.NoError(t, err)
		return h.send(http.MethodPost, "/v1/deposits", raw, headers, func(r *http.Request) {
			r.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		}).Code
	}

	// untrusted: the header is ignored and both share the socket address
	assert.Equal(t, http.StatusForbidden, sendFrom("198.51.100.7"))
	assert.Equal(t, http.StatusTooManyRequests, sendFrom("198.51.100.8"))

	h.srv.trustProxy = true
	assert.Equal(t, http.StatusForbidden, sendFrom("198.51.100.9"))
	assert.Equal(t, http.StatusTooManyRequests, sendFrom("198.51.100.9"))
	assert.Equal(t, http.StatusForbidden, sendFrom("198.51.100.10"))
}

func TestLimiterSet_EvictsIdleBuckets(t *testing.T) {
	now := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	l := newLimiterSet(1, 1)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("192.0.2.1"))
	assert.False(t, l.allow("192.0.2.1"))
	assert.True(t, l.allow("192.0.2.2"))
	assert.Equal(t, 2, l.size())

	now = now.Add(2 * time.Minute)
	assert.True(t, l.allow("192.0.2.3"))
	assert.Equal(t, 1, l.size(), "idle buckets are dropped")
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		domain.ErrUnauthorized:                  http.StatusForbidden,
		fmt.Errorf("x: %w", domain.ErrNotFound): http.StatusNotFound,
		domain.ErrAlreadyClaimed:                http.StatusConflict,
		domain.ErrPoolSettled:                   http.StatusConflict,
		domain.ErrBettingClosed:                 http.StatusBadRequest,
		domain.ErrInsufficientFunds:             http.StatusUnprocessableEntity,
		domain.ErrUnexpectedDelegate:            http.StatusUnprocessableEntity,
		errors.New("disk on fire"):              http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	srv := NewServer(Config{Addr: "127.0.0.1:0"}, nil, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
