package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/KretovDmitry/ledger-service/internal/models/errs"
	"github.com/KretovDmitry/ledger-service/pkg/header"
	"github.com/go-chi/chi/v5"
)

// MaxBodyBytes caps the size of a request body.
const MaxBodyBytes = 1 << 20

// AmountParams defines parameters for Deposit and Withdraw.
type AmountParams struct {
	// Raw amount as sent by the client, "" when missing.
	Amount string
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// Balance and recent operations (GET /api/extract).
	GetExtract(w http.ResponseWriter, r *http.Request)
	// Deposit (POST /api/deposit).
	Deposit(w http.ResponseWriter, r *http.Request, params AmountParams)
	// Withdrawal (POST /api/withdraw).
	Withdraw(w http.ResponseWriter, r *http.Request, params AmountParams)
	// Remove all operations (POST /api/reset).
	Reset(w http.ResponseWriter, r *http.Request)
}

// ServerInterfaceWrapper converts payloads to parameters.
type ServerInterfaceWrapper struct {
	Handler          ServerInterface
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

type MiddlewareFunc func(http.Handler) http.Handler

// Deposit operation middleware.
func (siw *ServerInterfaceWrapper) Deposit(w http.ResponseWriter, r *http.Request) {
	params, err := parseAmountParams(r)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}

	siw.Handler.Deposit(w, r, params)
}

// Withdraw operation middleware.
func (siw *ServerInterfaceWrapper) Withdraw(w http.ResponseWriter, r *http.Request) {
	params, err := parseAmountParams(r)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}

	siw.Handler.Withdraw(w, r, params)
}

// parseAmountParams reads the amount from a JSON object body under
// "amount" or, when that is missing or empty, "valor". A body that is
// not JSON or not an object yields empty params, which the ledger
// rejects as an invalid amount.
func parseAmountParams(r *http.Request) (AmountParams, error) {
	var params AmountParams

	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return params, &errs.InvalidParamError{
				ParamName: "body",
				Message:   fmt.Sprintf("exceeds %d bytes", maxBytesErr.Limit),
			}
		}
		return params, fmt.Errorf("read body: %w", err)
	}

	if !header.IsApplicationJSONContentType(r) {
		return params, nil
	}

	var payload map[string]any

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err = dec.Decode(&payload); err != nil {
		return params, nil
	}

	for _, key := range []string{"amount", "valor"} {
		if raw, ok := stringify(payload[key]); ok {
			params.Amount = raw
			break
		}
	}

	return params, nil
}

// stringify returns the textual form of a JSON value and
// whether the value counts as present.
func stringify(v any) (string, bool) {
	switch v := v.(type) {
	case nil:
		return "", false
	case string:
		return v, v != ""
	case json.Number:
		f, err := v.Float64()
		return v.String(), err != nil || f != 0
	case bool:
		return fmt.Sprint(v), v
	case []any:
		return fmt.Sprint(v), len(v) > 0
	case map[string]any:
		return fmt.Sprint(v), len(v) > 0
	default:
		return fmt.Sprint(v), true
	}
}

type ChiServerOptions struct {
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
	BaseRouter       chi.Router
	BaseURL          string
	// Middlewares wrap the mutating routes only.
	Middlewares []MiddlewareFunc
}

// HandlerWithOptions registers the ledger routes under options.BaseURL.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter

	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = ErrorHandlerFunc
	}
	wrapper := ServerInterfaceWrapper{
		Handler:          si,
		ErrorHandlerFunc: options.ErrorHandlerFunc,
	}

	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/extract", si.GetExtract)
	})
	r.Group(func(r chi.Router) {
		for _, middleware := range options.Middlewares {
			r.Use(middleware)
		}
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
				next.ServeHTTP(w, r)
			})
		})
		r.Post(options.BaseURL+"/deposit", wrapper.Deposit)
		r.Post(options.BaseURL+"/withdraw", wrapper.Withdraw)
		r.Post(options.BaseURL+"/reset", si.Reset)
	})

	return r
}

// ErrorHandlerFunc handles sending of an error in the JSON format,
// writing appropriate status code and handling the failure to marshal that.
func ErrorHandlerFunc(w http.ResponseWriter, _ *http.Request, err error) {
	errJSON := errs.JSON{Error: err.Error()}
	code := http.StatusInternalServerError

	switch {
	// Status Bad Request (400).
	case errs.IsRejection(err), errors.Is(err, errs.ErrInvalidRequest):
		code = http.StatusBadRequest

	// Status Conflict (409).
	case errors.Is(err, errs.ErrConflict):
		code = http.StatusConflict

	// Status Too Many Requests (429).
	case errors.Is(err, errs.ErrRateLimit):
		code = http.StatusTooManyRequests
	}

	w.Header().Set(header.ContentType, header.ApplicationJSON)
	w.WriteHeader(code)

	if err = json.NewEncoder(w).Encode(errJSON); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
