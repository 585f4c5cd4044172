package validators

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/payment-ledger/pkg/errors"
)

type sampleBody struct {
	AmountCents int64  `json:"amount_cents" validate:"gt=0"`
	Decision    string `json:"decision" validate:"required,oneof=approved denied"`
}

func TestDecodeJSONBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount_cents":100,"decision":"approved"}`))
	var body sampleBody
	if err := DecodeJSONBody(req, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.AmountCents != 100 || body.Decision != "approved" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount_cents":100,"decision":"approved","extra":1}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount_cents":0,"decision":"maybe"}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok {
		t.Fatalf("expected field details, got %T", typed.Details())
	}
	if details["amount_cents"] != "must be greater than 0" {
		t.Fatalf("unexpected amount message %q", details["amount_cents"])
	}
	if !strings.HasPrefix(details["decision"], "must be one of") {
		t.Fatalf("unexpected decision message %q", details["decision"])
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=20", nil)
	if v, err := ParseQueryInt(req, "limit", 50, 1, 100); err != nil || v != 20 {
		t.Fatalf("expected 20, got %d %v", v, err)
	}
	if v, err := ParseQueryInt(httptest.NewRequest(http.MethodGet, "/", nil), "limit", 50, 1, 100); err != nil || v != 50 {
		t.Fatalf("expected default 50, got %d %v", v, err)
	}
	if _, err := ParseQueryInt(httptest.NewRequest(http.MethodGet, "/?limit=500", nil), "limit", 50, 1, 100); err == nil {
		t.Fatal("expected range error")
	}
	if _, err := ParseQueryInt(httptest.NewRequest(http.MethodGet, "/?limit=abc", nil), "limit", 50, 1, 100); err == nil {
		t.Fatal("expected numeric error")
	}
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rc))
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "refundId", id.String())
	got, err := ParseUUIDParam(req, "refundId")
	if err != nil || got != id {
		t.Fatalf("expected %s, got %s %v", id, got, err)
	}

	bad := withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "refundId", "nope")
	if _, err := ParseUUIDParam(bad, "refundId"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParsePositiveIntParam(t *testing.T) {
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "number", "2")
	if v, err := ParsePositiveIntParam(req, "number"); err != nil || v != 2 {
		t.Fatalf("expected 2, got %d %v", v, err)
	}
	zero := withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "number", "0")
	if _, err := ParsePositiveIntParam(zero, "number"); err == nil {
		t.Fatal("expected error for zero")
	}
}

func TestSanitizeStringCountsRunes(t *testing.T) {
	if got := SanitizeString("  héllo  ", 3); got != "hél" {
		t.Fatalf("expected rune-safe truncation, got %q", got)
	}
	if got := SanitizeString(" ok ", 0); got != "ok" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
}

func TestParseQueryEnum(t *testing.T) {
	parseDecision := func(v string) (string, error) {
		if v == "approved" || v == "denied" {
			return v, nil
		}
		return "", errors.New("unknown decision")
	}

	req := httptest.NewRequest(http.MethodGet, "/?decision=+approved+", nil)
	got, err := ParseQueryEnum(req, "decision", parseDecision)
	if err != nil || got != "approved" {
		t.Fatalf("expected approved, got %q err=%v", got, err)
	}

	req = httptest.NewRequest(http.MethodGet, "/?decision=maybe", nil)
	if _, err := ParseQueryEnum(req, "decision", parseDecision); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	typed := func(string) (int, error) { return 0, pkgerrors.New(pkgerrors.CodeStateConflict, "nope") }
	if _, err := ParseQueryEnum(req, "decision", typed); !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected typed error to keep its code, got %v", err)
	}
}

type moneyBody struct {
	Amount  decimal.Decimal  `json:"amount" validate:"decimal_positive"`
	Settled *decimal.Decimal `json:"settled,omitempty" validate:"omitempty,decimal_nonneg"`
}

func TestDecodeJSONBodyValidatesDecimals(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		field string
	}{
		{name: "positive", body: `{"amount":"12.50"}`},
		{name: "zero settled", body: `{"amount":1,"settled":0}`},
		{name: "zero amount", body: `{"amount":0}`, field: "amount"},
		{name: "negative amount", body: `{"amount":"-4"}`, field: "amount"},
		{name: "negative settled", body: `{"amount":1,"settled":-1}`, field: "settled"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var body moneyBody
			err := DecodeJSONBody(req, &body)
			if tc.field == "" {
				if err != nil {
					t.Fatalf("decode: %v", err)
				}
				return
			}
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != pkgerrors.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
			details, ok := typed.Details().(map[string]string)
			if !ok || details[tc.field] == "" {
				t.Fatalf("expected detail for %s, got %#v", tc.field, typed.Details())
			}
		})
	}
}

func TestDecodeJSONBodyRejectsTrailingData(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount_cents":1,"decision":"denied"}{"amount_cents":2}`))
	var body sampleBody
	if err := DecodeJSONBody(req, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
