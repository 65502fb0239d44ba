package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

func init() {
	// Amounts travel as JSON numbers; decoding accepts numbers and strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// URLParamInt64 parses a positive numeric chi URL parameter.
func URLParamInt64(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Validation("invalid " + name)
	}
	return id, nil
}

// ParseDate accepts YYYY-MM-DD or RFC3339. Empty input yields the zero time.
func ParseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, shared.Validation(field + " must be a date (YYYY-MM-DD)")
	}
	return t, nil
}

var printer = message.NewPrinter(language.English)

// Money renders an amount with thousands separators and two decimals.
func Money(d decimal.Decimal) string {
	return printer.Sprintf("%.2f", d.Round(2).InexactFloat64())
}

// Sprintf formats a user-facing message with locale-aware number grouping.
func Sprintf(format string, args ...any) string {
	return printer.Sprintf(format, args...)
}
