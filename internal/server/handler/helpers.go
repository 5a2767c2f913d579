package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// maxBodyBytes bounds request bodies; the only body is the control action.
const maxBodyBytes = 1 << 10

// writeJSON marshals v and writes it with status. A marshal failure becomes
// a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a single small JSON object into dst, rejecting unknown
// fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON object")
	}
	return nil
}

// parseLimit reads the "limit" query parameter, falling back to def and
// capping at max. A zero result means unlimited.
func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}
	if max > 0 && (limit == 0 || limit > max) {
		limit = max
	}
	return limit
}

// symbolParam reads the "symbol" query parameter in normalised form, so
// "btc/usdt" and "BTC-USDT-PERP" match BTCUSDT and BTCUSDT-PERP.
func symbolParam(r *http.Request) string {
	s := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	if s == "" {
		return ""
	}
	perp := strings.HasSuffix(s, domain.PerpSuffix)
	s = strings.TrimSuffix(s, domain.PerpSuffix)
	s = strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
	if perp {
		return domain.PerpSymbol(s)
	}
	return s
}

// exchangeParam reads the optional "exchange" query parameter.
func exchangeParam(r *http.Request) (domain.Exchange, error) {
	v := r.URL.Query().Get("exchange")
	if v == "" {
		return "", nil
	}
	ex, err := domain.ParseExchange(v)
	if err != nil {
		return "", fmt.Errorf("unknown exchange %q", v)
	}
	return ex, nil
}
