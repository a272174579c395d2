package epicrisis

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestContext(id string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	return c, rec
}

func TestHandler_GetDocument(t *testing.T) {
	h := NewHandler(newTestService())
	c, rec := newTestContext("3")

	if err := h.GetDocument(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var doc Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Title != "CERTIFICADO DE NACIMIENTO" || len(doc.Sections) == 0 {
		t.Errorf("unexpected document %+v", doc)
	}
}

func TestHandler_GetDocument_NotFound(t *testing.T) {
	h := NewHandler(newTestService())
	c, _ := newTestContext("99")

	var he *echo.HTTPError
	if err := h.GetDocument(c); !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_GetPDF(t *testing.T) {
	h := NewHandler(newTestService())
	c, rec := newTestContext("3")

	if err := h.GetPDF(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/pdf" {
		t.Errorf("expected application/pdf, got %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")) {
		t.Error("expected a PDF body")
	}
}

func TestHandler_GetPDF_InvalidID(t *testing.T) {
	h := NewHandler(newTestService())
	c, _ := newTestContext("abc")

	var he *echo.HTTPError
	if err := h.GetPDF(c); !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
