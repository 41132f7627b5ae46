// Package unzip transparently decompresses gzip encoded request bodies.
package unzip

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/KretovDmitry/ledger-service/internal/models/errs"
	"github.com/KretovDmitry/ledger-service/pkg/header"
	"github.com/KretovDmitry/ledger-service/pkg/logger"
)

// compressReader implements ReadCloser interface
// and replaces Read method with a decompression one.
type compressReader struct {
	r  io.ReadCloser
	zr *gzip.Reader
}

func newCompressReader(r io.ReadCloser) (*compressReader, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("new gzip reader: %w", err)
	}

	return &compressReader{
		r:  r,
		zr: zr,
	}, nil
}

func (c compressReader) Read(p []byte) (int, error) {
	return c.zr.Read(p)
}

func (c *compressReader) Close() error {
	if err := c.r.Close(); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}
	return c.zr.Close()
}

// Middleware decides whether or not to decompress request
// judging by content encoding. A body that claims to be gzip
// but is not is rejected with 400.
func Middleware(l logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		f := func(w http.ResponseWriter, r *http.Request) {
			contentEncoding := r.Header.Get(header.ContentEncoding)
			if strings.Contains(contentEncoding, "gzip") {
				cr, err := newCompressReader(r.Body)
				if err != nil {
					l.With(r.Context()).Errorf("decompress request body: %s", err)
					w.Header().Set(header.ContentType, header.ApplicationJSON)
					w.WriteHeader(http.StatusBadRequest)
					_ = json.NewEncoder(w).Encode(errs.JSON{
						Error: fmt.Sprintf("%s: malformed gzip body", errs.ErrInvalidRequest),
					})
					return
				}
				r.Body = cr
				r.Header.Del(header.ContentEncoding)
				defer cr.Close()
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(f)
	}
}
