package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

type sampleRequest struct {
	Equity float64 `json:"equity" validate:"gt=0"`
	Code   string  `json:"code" validate:"required,min=4"`
	Limit  int     `json:"limit" default:"50" validate:"min=1,max=500"`
}

func newContext(body string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestReadAndValidateRequestAppliesDefaults(t *testing.T) {
	req := &sampleRequest{}
	if verr := ReadAndValidateRequest(newContext(`{"equity":10,"code":"abcd"}`), req); verr != nil {
		t.Fatalf("unexpected errors: %+v", verr)
	}
	if req.Limit != 50 {
		t.Fatalf("limit = %d, want default 50", req.Limit)
	}
}

func TestReadAndValidateRequestUsesWireNames(t *testing.T) {
	verr := ReadAndValidateRequest(newContext(`{"equity":-1,"code":"ab"}`), &sampleRequest{})
	errs, ok := verr.([]ValidationError)
	if !ok || len(errs) != 2 {
		t.Fatalf("got %#v, want two validation errors", verr)
	}
	fields := map[string]string{}
	for _, e := range errs {
		fields[e.Field] = e.Code
	}
	if fields["equity"] != "ERR_GT" || fields["code"] != "ERR_MIN" {
		t.Fatalf("fields = %v", fields)
	}
}

func TestReadAndValidateRequestBindError(t *testing.T) {
	errs, ok := ReadAndValidateRequest(newContext(`{"equity":`), &sampleRequest{}).([]ValidationError)
	if !ok || len(errs) != 1 || errs[0].Code != "ERR_BIND" {
		t.Fatalf("got %#v", errs)
	}
}
