package hmacauth

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func signedRequest(secret, body string, at time.Time) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/settle", strings.NewReader(body))
	ts := fmt.Sprintf("%d", at.Unix())
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, Sign(secret, ts, []byte(body)))
	return req
}

func TestVerifierAcceptsSignedRequest(t *testing.T) {
	now := time.Now()
	v := &Verifier{Secret: "s3cret", MaxSkew: time.Minute, Now: func() time.Time { return now }}

	rec := httptest.NewRecorder()
	v.Middleware(okHandler()).ServeHTTP(rec, signedRequest("s3cret", `{"contractId":"00abc"}`, now))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestVerifierRejectsMissingHeaders(t *testing.T) {
	v := &Verifier{Secret: "s3cret", MaxSkew: time.Minute}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/settle", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	v.Middleware(okHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no signature: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/settle", strings.NewReader("{}"))
	req.Header.Set(HeaderSignature, "deadbeef")
	rec = httptest.NewRecorder()
	v.Middleware(okHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no timestamp: status = %d, want 401", rec.Code)
	}
}

func TestVerifierRejectsWrongSecret(t *testing.T) {
	now := time.Now()
	v := &Verifier{Secret: "s3cret", MaxSkew: time.Minute, Now: func() time.Time { return now }}

	rec := httptest.NewRecorder()
	v.Middleware(okHandler()).ServeHTTP(rec, signedRequest("wrong", "{}", now))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestVerifierRejectsTamperedBody(t *testing.T) {
	now := time.Now()
	v := &Verifier{Secret: "s3cret", MaxSkew: time.Minute, Now: func() time.Time { return now }}

	req := signedRequest("s3cret", `{"contractId":"00abc"}`, now)
	req.Body = http.NoBody
	rec := httptest.NewRecorder()
	v.Middleware(okHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestVerifierRejectsStaleTimestamp(t *testing.T) {
	now := time.Now()
	v := &Verifier{Secret: "s3cret", MaxSkew: time.Minute, Now: func() time.Time { return now }}

	rec := httptest.NewRecorder()
	v.Middleware(okHandler()).ServeHTTP(rec, signedRequest("s3cret", "{}", now.Add(-2*time.Minute)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("past skew: status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	v.Middleware(okHandler()).ServeHTTP(rec, signedRequest("s3cret", "{}", now.Add(2*time.Minute)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("future skew: status = %d, want 401", rec.Code)
	}
}

func TestVerifierDisabledWithoutSecret(t *testing.T) {
	v := &Verifier{Secret: "", MaxSkew: time.Minute}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/settle", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	v.Middleware(okHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestBodyReadableAfterVerification(t *testing.T) {
	now := time.Now()
	v := &Verifier{Secret: "s3cret", MaxSkew: time.Minute, Now: func() time.Time { return now }}

	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		seen = string(buf[:n])
	})

	body := `{"contractId":"00abc"}`
	rec := httptest.NewRecorder()
	v.Middleware(handler).ServeHTTP(rec, signedRequest("s3cret", body, now))
	if seen != body {
		t.Fatalf("handler saw %q, want %q", seen, body)
	}
}
