package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tradeflow/apperr"
)

func TestWriteAppError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apperr.New(apperr.KindUnauthorized, "0x9 holds no role"), http.StatusForbidden, "unauthorized"},
		{apperr.New(apperr.KindNotFound, "gone"), http.StatusNotFound, "not_found"},
		{apperr.New(apperr.KindInvalidTransition, "signed"), http.StatusConflict, "invalid_transition"},
		{apperr.New(apperr.KindMissingField, "actor"), http.StatusBadRequest, "missing_field"},
		{apperr.New(apperr.KindRolesUnavailable, "pending"), http.StatusServiceUnavailable, "roles_unavailable"},
		{errors.New("pq: connection reset"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		WriteAppError(rec, tc.err)
		if rec.Code != tc.status {
			t.Errorf("%v: status %d want %d", tc.err, rec.Code, tc.status)
		}
		var body struct {
			RequestID string `json:"request_id"`
			Error     struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Error.Code != tc.code || !strings.HasPrefix(body.RequestID, "req_") {
			t.Errorf("%v: unexpected body %+v", tc.err, body)
		}
		if tc.code == "internal" && strings.Contains(body.Error.Message, "pq") {
			t.Errorf("internal details leaked: %q", body.Error.Message)
		}
	}
}

func TestReadJSON(t *testing.T) {
	var dst struct {
		Actor string `json:"actor"`
	}
	ok := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"actor":"0x1"}`))
	if err := ReadJSON(ok, &dst); err != nil || dst.Actor != "0x1" {
		t.Fatalf("read: %v %+v", err, dst)
	}
	for _, body := range []string{`{"actor":"0x1","extra":1}`, `{"actor":"0x1"}{}`, `nope`} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		if err := ReadJSON(req, &dst); err == nil {
			t.Errorf("%s: expected error", body)
		}
	}
}
