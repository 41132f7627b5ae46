// Package web serves the landing page and its static assets.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/KretovDmitry/ledger-service/pkg/header"
	"github.com/KretovDmitry/ledger-service/pkg/logger"
	"github.com/go-chi/chi/v5"
)

//go:embed templates static
var content embed.FS

// Page holds the values rendered into the landing page.
type Page struct {
	Title              string
	LimitPerWithdraw   string
	MaxWithdrawsPerDay int
}

// Register mounts GET / and GET /static/* on the router.
func Register(r chi.Router, page Page, logger logger.Logger) error {
	tmpl, err := template.ParseFS(content, "templates/index.html")
	if err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}

	static, err := fs.Sub(content, "static")
	if err != nil {
		return fmt.Errorf("static assets: %w", err)
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, page); err != nil {
			logger.With(r.Context()).Errorf("render index: %s", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set(header.ContentType, "text/html; charset=utf-8")
		_, _ = buf.WriteTo(w)
	})

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	return nil
}
