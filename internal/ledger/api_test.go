package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KretovDmitry/ledger-service/internal/models/errs"
	"github.com/KretovDmitry/ledger-service/internal/models/operation"
	"github.com/KretovDmitry/ledger-service/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLedger records the raw amounts it receives and
// answers with the configured receipt or error.
type fakeLedger struct {
	receipt *Receipt
	extract *Extract
	err     error
	raw     []string
	mu      sync.RWMutex
}

var _ Ledger = (*fakeLedger)(nil)

func (f *fakeLedger) Deposit(_ context.Context, raw string) (*Receipt, error) {
	return f.record(raw)
}

func (f *fakeLedger) Withdraw(_ context.Context, raw string) (*Receipt, error) {
	return f.record(raw)
}

func (f *fakeLedger) Extract(_ context.Context) (*Extract, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.extract, nil
}

func (f *fakeLedger) Reset(_ context.Context) error {
	return f.err
}

func (f *fakeLedger) record(raw string) (*Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw = append(f.raw, raw)
	if f.err != nil {
		return nil, f.err
	}
	return f.receipt, nil
}

func (f *fakeLedger) lastRaw() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.raw) == 0 {
		return "<none>"
	}
	return f.raw[len(f.raw)-1]
}

func newTestRouter(t *testing.T, l Ledger, middlewares ...MiddlewareFunc) http.Handler {
	t.Helper()

	log, _ := logger.NewForTest()

	return HandlerWithOptions(NewController(l, log), ChiServerOptions{
		BaseURL:          "/api",
		BaseRouter:       chi.NewRouter(),
		Middlewares:      middlewares,
		ErrorHandlerFunc: ErrorHandlerFunc,
	})
}

func TestAmountParams(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		payload     string
		want        string
	}{
		{name: "amount string", contentType: "application/json", payload: `{"amount":"10,50"}`, want: "10,50"},
		{name: "amount number", contentType: "application/json", payload: `{"amount":10.5}`, want: "10.5"},
		{name: "exact number literal", contentType: "application/json", payload: `{"amount":0.125}`, want: "0.125"},
		{name: "valor", contentType: "application/json; charset=utf-8", payload: `{"valor":"7"}`, want: "7"},
		{name: "amount wins", contentType: "application/json", payload: `{"amount":"1","valor":"2"}`, want: "1"},
		{name: "empty amount falls back", contentType: "application/json", payload: `{"amount":"","valor":"2"}`, want: "2"},
		{name: "zero amount falls back", contentType: "application/json", payload: `{"amount":0,"valor":"2"}`, want: "2"},
		{name: "null amount falls back", contentType: "application/json", payload: `{"amount":null,"valor":"3"}`, want: "3"},
		{name: "neither", contentType: "application/json", payload: `{"sum":"5"}`, want: ""},
		{name: "bool", contentType: "application/json", payload: `{"amount":true}`, want: "true"},
		{name: "false falls back", contentType: "application/json", payload: `{"amount":false,"valor":"4"}`, want: "4"},
		{name: "empty array falls back", contentType: "application/json", payload: `{"amount":[],"valor":"5"}`, want: "5"},
		{name: "empty object falls back", contentType: "application/json", payload: `{"amount":{},"valor":"6"}`, want: "6"},
		{name: "non-empty array", contentType: "application/json", payload: `{"amount":["1"],"valor":"6"}`, want: "[1]"},
		{name: "not an object", contentType: "application/json", payload: `["10"]`, want: ""},
		{name: "malformed", contentType: "application/json", payload: `{"amount":`, want: ""},
		{name: "empty body", contentType: "application/json", payload: ``, want: ""},
		{name: "not json", contentType: "text/plain", payload: `{"amount":"10"}`, want: ""},
		{name: "no content type", contentType: "", payload: `{"amount":"10"}`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/deposit", strings.NewReader(tt.payload))
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}

			params, err := parseAmountParams(r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, params.Amount)
		})
	}
}

func TestDepositHandler(t *testing.T) {
	path := "/api/deposit"

	type want struct {
		response   string
		statusCode int
	}

	tests := []struct {
		name    string
		payload string
		ledger  *fakeLedger
		want    want
	}{
		{
			name:    "OK",
			payload: `{"amount":"150,50"}`,
			ledger: &fakeLedger{receipt: &Receipt{
				Operation: &operation.Operation{ID: 1, Type: operation.DEPOSIT, Amount: dec("150.50")},
				Balance:   dec("150.5"),
			}},
			want: want{
				statusCode: http.StatusCreated,
				response:   `{"message":"Deposit completed successfully.","balance":150.50}`,
			},
		},
		{
			name:    "invalid amount",
			payload: `{"amount":"abc"}`,
			ledger:  &fakeLedger{err: fmt.Errorf("%w: \"abc\" is not a number", errs.ErrInvalidAmount)},
			want: want{
				statusCode: http.StatusBadRequest,
				response:   `{"error":"invalid amount: \"abc\" is not a number"}`,
			},
		},
		{
			name:    "storage failure",
			payload: `{"amount":"1"}`,
			ledger:  &fakeLedger{err: errDontPanic},
			want: want{
				statusCode: http.StatusInternalServerError,
				response:   `{"error":"don't panic!"}`,
			},
		},
		{
			name:    "conflict",
			payload: `{"amount":"1"}`,
			ledger:  &fakeLedger{err: fmt.Errorf("deposit: %w", errs.ErrConflict)},
			want: want{
				statusCode: http.StatusConflict,
				response:   `{"error":"deposit: concurrent update conflict"}`,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(tt.payload))
			r.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			newTestRouter(t, tt.ledger).ServeHTTP(w, r)

			res := w.Result()
			defer res.Body.Close()

			body, err := io.ReadAll(res.Body)
			require.NoError(t, err)

			assert.Equal(t, tt.want.statusCode, res.StatusCode)
			assert.Equal(t, "application/json", res.Header.Get("Content-Type"))
			assert.JSONEq(t, tt.want.response, string(body))
		})
	}
}

func TestWithdrawHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		response   string
	}{
		{
			name:       "OK",
			statusCode: http.StatusCreated,
			response:   `{"message":"Withdrawal completed successfully.","balance":100.00,"withdraws_today":2}`,
		},
		{
			name:       "insufficient funds",
			err:        errs.ErrInsufficientFunds,
			statusCode: http.StatusBadRequest,
			response:   `{"error":"insufficient funds"}`,
		},
		{
			name:       "per-transaction limit",
			err:        fmt.Errorf("%w: limit per withdrawal is 500.00", errs.ErrPerTransactionLimitExceeded),
			statusCode: http.StatusBadRequest,
			response:   `{"error":"per-transaction limit exceeded: limit per withdrawal is 500.00"}`,
		},
		{
			name:       "daily limit",
			err:        fmt.Errorf("%w: at most 3 withdrawals per day", errs.ErrDailyLimitExceeded),
			statusCode: http.StatusBadRequest,
			response:   `{"error":"daily limit exceeded: at most 3 withdrawals per day"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &fakeLedger{
				receipt: &Receipt{
					Operation:      &operation.Operation{ID: 4, Type: operation.WITHDRAW, Amount: dec("50")},
					Balance:        dec("100"),
					WithdrawsToday: 2,
				},
				err: tt.err,
			}

			r := httptest.NewRequest(http.MethodPost, "/api/withdraw", strings.NewReader(`{"valor":"50"}`))
			r.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			newTestRouter(t, l).ServeHTTP(w, r)

			assert.Equal(t, tt.statusCode, w.Code)
			assert.JSONEq(t, tt.response, w.Body.String())
			assert.Equal(t, "50", l.lastRaw())
		})
	}
}

func TestBodyTooLarge(t *testing.T) {
	l := &fakeLedger{}

	payload := `{"amount":"` + strings.Repeat("1", MaxBodyBytes) + `"}`
	r := httptest.NewRequest(http.MethodPost, "/api/deposit", strings.NewReader(payload))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	newTestRouter(t, l).ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid request: body exceeds")
	assert.Equal(t, "<none>", l.lastRaw())
}

func TestGetExtractHandler(t *testing.T) {
	at := time.Date(2024, time.March, 14, 15, 9, 26, 0, time.Local)

	l := &fakeLedger{extract: &Extract{
		Balance: dec("-0.5"),
		Operations: []*operation.Operation{
			{ID: 2, Type: operation.WITHDRAW, Amount: dec("10"), CreatedAt: at},
			{ID: 1, Type: operation.DEPOSIT, Amount: dec("9.5"), CreatedAt: at.Add(-time.Hour)},
		},
	}}

	w := httptest.NewRecorder()
	newTestRouter(t, l).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/extract", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"balance": -0.50,
		"operations": [
			{"id": 2, "type": "withdraw", "amount": 10.00, "created_at": "2024-03-14 15:09:26"},
			{"id": 1, "type": "deposit", "amount": 9.50, "created_at": "2024-03-14 14:09:26"}
		]
	}`, w.Body.String())
	assert.Contains(t, w.Body.String(), `"balance":-0.50`)
}

func TestGetExtractHandlerEmpty(t *testing.T) {
	l := &fakeLedger{extract: &Extract{Balance: dec("0")}}

	w := httptest.NewRecorder()
	newTestRouter(t, l).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/extract", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"balance":0.00,"operations":[]}`, w.Body.String())
}

func TestResetHandler(t *testing.T) {
	w := httptest.NewRecorder()
	newTestRouter(t, &fakeLedger{}).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/reset", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Ledger reset (all operations removed)."}`, w.Body.String())

	w = httptest.NewRecorder()
	newTestRouter(t, &fakeLedger{err: errDontPanic}).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/reset", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMiddlewaresWrapMutatingRoutesOnly(t *testing.T) {
	blocked := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ErrorHandlerFunc(w, r, errs.ErrRateLimit)
		})
	}

	router := newTestRouter(t, &fakeLedger{extract: &Extract{}}, blocked)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/extract", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	for _, path := range []string{"/api/deposit", "/api/withdraw", "/api/reset"} {
		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusTooManyRequests, w.Code, path)
	}
}

func TestErrorHandlerFunc(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{err: errs.ErrInvalidAmount, code: http.StatusBadRequest},
		{err: errs.ErrInsufficientFunds, code: http.StatusBadRequest},
		{err: errs.ErrPerTransactionLimitExceeded, code: http.StatusBadRequest},
		{err: errs.ErrDailyLimitExceeded, code: http.StatusBadRequest},
		{err: &errs.InvalidParamError{ParamName: "body", Message: "is empty"}, code: http.StatusBadRequest},
		{err: fmt.Errorf("withdraw: %w", errs.ErrConflict), code: http.StatusConflict},
		{err: errs.ErrRateLimit, code: http.StatusTooManyRequests},
		{err: errDontPanic, code: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			ErrorHandlerFunc(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			assert.Equal(t, tt.code, w.Code)

			var body errs.JSON
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.err.Error(), body.Error)
		})
	}
}

// TestLedgerOverHTTP drives the real service through the router.
func TestLedgerOverHTTP(t *testing.T) {
	repo := newMockRepository(fixedNow)
	s, mock := setupTestService(t, repo, testConfig())

	router := newTestRouter(t, s)

	post := func(path, payload string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(payload))
		r.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		return w
	}

	// Deposit.
	expectCommit(mock)
	w := post("/api/deposit", `{"valor":"1.000,00"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.JSONEq(t, `{"message":"Deposit completed successfully.","balance":1000.00}`, w.Body.String())

	// Three withdrawals succeed.
	for i := 1; i <= 3; i++ {
		expectCommit(mock)
		w = post("/api/withdraw", `{"amount":"100"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.JSONEq(t, fmt.Sprintf(`{"message":"Withdrawal completed successfully.","balance":%d.00,"withdraws_today":%d}`,
			1000-100*i, i), w.Body.String())
	}

	// The fourth is rejected inside the transaction.
	expectRollback(mock)
	w = post("/api/withdraw", `{"amount":"100"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"daily limit exceeded: at most 3 withdrawals per day"}`, w.Body.String())

	// Deposits are not limited.
	expectCommit(mock)
	w = post("/api/deposit", `{"amount":0.5}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"message":"Deposit completed successfully.","balance":700.50}`, w.Body.String())

	// Extract.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/extract", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var extract struct {
		Balance    json.Number `json:"balance"`
		Operations []struct {
			ID   int64  `json:"id"`
			Type string `json:"type"`
		} `json:"operations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &extract))
	assert.Equal(t, "700.50", extract.Balance.String())
	require.Len(t, extract.Operations, 5)
	assert.Equal(t, int64(5), extract.Operations[0].ID)
	assert.Equal(t, "deposit", extract.Operations[0].Type)

	// Reset twice.
	for i := 0; i < 2; i++ {
		w = post("/api/reset", ``)
		assert.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, 0, repo.Len())

	assert.NoError(t, mock.ExpectationsWereMet())
}
