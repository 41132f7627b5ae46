package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/KretovDmitry/ledger-service/internal/models/operation"
	"github.com/KretovDmitry/ledger-service/pkg/amount"
	"github.com/KretovDmitry/ledger-service/pkg/header"
	"github.com/KretovDmitry/ledger-service/pkg/logger"
	"github.com/shopspring/decimal"
)

// Ledger is the set of operations exposed over HTTP.
type Ledger interface {
	Deposit(ctx context.Context, raw string) (*Receipt, error)
	Withdraw(ctx context.Context, raw string) (*Receipt, error)
	Extract(ctx context.Context) (*Extract, error)
	Reset(ctx context.Context) error
}

var _ Ledger = (*Service)(nil)

// Response messages.
const (
	DepositMessage  = "Deposit completed successfully."
	WithdrawMessage = "Withdrawal completed successfully."
	ResetMessage    = "Ledger reset (all operations removed)."
)

type (
	ExtractResponse struct {
		Balance    json.Number         `json:"balance"`
		Operations []OperationResponse `json:"operations"`
	}

	OperationResponse struct {
		Type      operation.Type `json:"type"`
		Amount    json.Number    `json:"amount"`
		CreatedAt string         `json:"created_at"`
		ID        int64          `json:"id"`
	}

	DepositResponse struct {
		Message string      `json:"message"`
		Balance json.Number `json:"balance"`
	}

	WithdrawResponse struct {
		Message        string      `json:"message"`
		Balance        json.Number `json:"balance"`
		WithdrawsToday int         `json:"withdraws_today"`
	}

	ResetResponse struct {
		Message string `json:"message"`
	}
)

type Controller struct {
	ledger Ledger
	logger logger.Logger
}

func NewController(ledger Ledger, logger logger.Logger) *Controller {
	return &Controller{ledger: ledger, logger: logger}
}

var _ ServerInterface = (*Controller)(nil)

// Balance and recent operations (GET /api/extract).
func (c *Controller) GetExtract(w http.ResponseWriter, r *http.Request) {
	extract, err := c.ledger.Extract(r.Context())
	if err != nil {
		c.fail(w, r, err)
		return
	}

	res := ExtractResponse{
		Balance:    number(extract.Balance),
		Operations: make([]OperationResponse, 0, len(extract.Operations)),
	}
	for _, op := range extract.Operations {
		res.Operations = append(res.Operations, OperationResponse{
			ID:        op.ID,
			Type:      op.Type,
			Amount:    number(op.Amount),
			CreatedAt: op.CreatedAt.Local().Format(time.DateTime),
		})
	}

	c.respond(w, r, http.StatusOK, res)
}

// Deposit (POST /api/deposit).
func (c *Controller) Deposit(w http.ResponseWriter, r *http.Request, params AmountParams) {
	receipt, err := c.ledger.Deposit(r.Context(), params.Amount)
	if err != nil {
		c.fail(w, r, err)
		return
	}

	c.respond(w, r, http.StatusCreated, DepositResponse{
		Message: DepositMessage,
		Balance: number(receipt.Balance),
	})
}

// Withdrawal (POST /api/withdraw).
func (c *Controller) Withdraw(w http.ResponseWriter, r *http.Request, params AmountParams) {
	receipt, err := c.ledger.Withdraw(r.Context(), params.Amount)
	if err != nil {
		c.fail(w, r, err)
		return
	}

	c.respond(w, r, http.StatusCreated, WithdrawResponse{
		Message:        WithdrawMessage,
		Balance:        number(receipt.Balance),
		WithdrawsToday: receipt.WithdrawsToday,
	})
}

// Remove all operations (POST /api/reset).
func (c *Controller) Reset(w http.ResponseWriter, r *http.Request) {
	if err := c.ledger.Reset(r.Context()); err != nil {
		c.fail(w, r, err)
		return
	}

	c.respond(w, r, http.StatusOK, ResetResponse{Message: ResetMessage})
}

func (c *Controller) respond(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set(header.ContentType, header.ApplicationJSON)
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		c.logger.With(r.Context()).Errorf("encode response: %s", err)
	}
}

func (c *Controller) fail(w http.ResponseWriter, r *http.Request, err error) {
	ww := &statusWriter{ResponseWriter: w}
	ErrorHandlerFunc(ww, r, err)
	if ww.status >= http.StatusInternalServerError {
		c.logger.With(r.Context()).Errorf("%s %s: %s", r.Method, r.URL.Path, err)
	}
}

// number renders an amount as an exact JSON number with two fraction digits.
func number(d decimal.Decimal) json.Number {
	return json.Number(amount.Format(d))
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
