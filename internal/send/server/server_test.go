package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/walletsend/internal/send/dispatch"
	"github.com/Aidin1998/walletsend/internal/send/evm"
	"github.com/Aidin1998/walletsend/internal/send/orchestrator"
	"github.com/Aidin1998/walletsend/internal/send/sandbox"
	"github.com/Aidin1998/walletsend/pkg/errors"
)

const recipient = "0x5e3Ef299fDDf15eAa0432E6e66473ace8c13D908"

type fixture struct {
	server   *Server
	registry *Registry
	wallet   *sandbox.Wallet
	signer   *sandbox.Signer
	session  *orchestrator.Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t)

	wallet := sandbox.NewWallet()
	wallet.Fund("ETH", decimal.RequireFromString("2"))
	wallet.SetRate("ETH", decimal.RequireFromString("2000"))

	fees := sandbox.NewFeeSource()
	fees.SetMarketFee("ETH", decimal.RequireFromString("0.01"))

	signer, err := sandbox.NewSigner(wallet, nil, "https://explorer.example/tx/", log)
	require.NoError(t, err)

	o, err := orchestrator.New(orchestrator.Options{
		Kind:           orchestrator.KindTransfer,
		AssetID:        "ETH",
		Blockchain:     "ethereum",
		CryptoDecimals: 18,
	}, orchestrator.Dependencies{
		Gateway:     dispatch.NewGateway(signer, log),
		Rates:       wallet,
		Balances:    wallet,
		Validator:   wallet.Validator("ETH", "ETH", decimal.Zero),
		Creator:     sandbox.Creator{},
		FeeSource:   fees,
		Addresses:   evm.NewAddressService(signer.Address()),
		FieldParser: sandbox.MemoParser{},
	}, log)
	require.NoError(t, err)
	o.Start(context.Background())

	registry := NewRegistry()
	registry.Add(o)
	t.Cleanup(registry.Close)

	return &fixture{
		server:   New(registry, "walletsend-test", log),
		registry: registry,
		wallet:   wallet,
		signer:   signer,
		session:  o,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Router().ServeHTTP(w, req)
	return w
}

func (f *fixture) path(suffix string) string {
	return "/api/v1/sessions/" + f.session.Session().String() + suffix
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sessions":1`)

	w = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestUnknownSessions(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/sessions/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errors.TypeNotFound, decode[errors.ProblemDetails](t, w).Type)

	w = f.do(t, http.MethodGet, "/api/v1/sessions/not-a-uuid", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "invalidSessionID", decode[errors.ProblemDetails](t, w).Title)
}

func TestTransferOverHTTP(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, f.path("/amount"), map[string]string{"crypto": "0.5"})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = f.do(t, http.MethodPost, f.path("/destination"), map[string]string{"address": recipient})
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		view := decode[sessionView](t, f.do(t, http.MethodGet, f.path(""), nil))
		return view.Ready && view.Candidate != nil && view.Candidate.Transaction != nil
	}, 2*time.Second, 10*time.Millisecond)

	view := decode[sessionView](t, f.do(t, http.MethodGet, f.path(""), nil))
	assert.Equal(t, orchestrator.KindTransfer, view.Kind)
	assert.Equal(t, recipient, view.Destination)
	assert.Len(t, view.Fees, 4)
	require.NotNil(t, view.Summary)
	assert.True(t, view.Summary.Amount.Fiat.Decimal.Equal(decimal.RequireFromString("1000")))

	w = f.do(t, http.MethodPost, f.path("/perform"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	hash := decode[map[string]any](t, w)["hash"]
	assert.Equal(t, f.signer.Signed()[0], hash)

	balance, _ := f.wallet.SpendableBalance(context.Background(), "ETH")
	assert.True(t, balance.Equal(decimal.RequireFromString("1.49")), balance.String())

	view = decode[sessionView](t, f.do(t, http.MethodGet, f.path(""), nil))
	assert.NotNil(t, view.SentAt)
	assert.Equal(t, "https://explorer.example/tx/"+f.signer.Signed()[0], view.URL)
}

func TestValidationProblemOnCandidate(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, f.path("/destination"), map[string]string{"address": recipient})
	f.do(t, http.MethodPost, f.path("/amount"), map[string]string{"crypto": "5"})

	require.Eventually(t, func() bool {
		view := decode[sessionView](t, f.do(t, http.MethodGet, f.path(""), nil))
		return view.Candidate != nil && view.Candidate.Problem != nil
	}, 2*time.Second, 10*time.Millisecond)

	view := decode[sessionView](t, f.do(t, http.MethodGet, f.path(""), nil))
	assert.Equal(t, http.StatusUnprocessableEntity, view.Candidate.Problem.Status)
	assert.Equal(t, "insufficientBalance", view.Candidate.Problem.Title)
	assert.False(t, view.Ready)

	w := f.do(t, http.MethodPost, f.path("/perform"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "transactionNotFound", decode[errors.ProblemDetails](t, w).Title)
}

func TestFeeSelection(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, f.path("/fee"), map[string]string{"option": "fast"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "fast", string(decode[sessionView](t, w).Fee.Option))

	w = f.do(t, http.MethodPost, f.path("/fee"), map[string]string{"option": "custom"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, http.MethodPost, f.path("/fee"), map[string]string{"option": "turbo"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodDelete, f.path(""), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, f.path(""), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, f.registry.List())
}
