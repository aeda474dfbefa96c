package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type postRequest struct {
	Text   string `json:"text" validate:"required,max=100"`
	Sender string `json:"sender"`
	Limit  int    `json:"-" form:"limit"`
}

func TestParse(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/inbox?limit=7", strings.NewReader(`{"text":"hi","sender":"ci"}`))
	req.Header.Set("Content-Type", "application/json")
	var p postRequest
	require.NoError(t, Parse(httptest.NewRecorder(), req, &p))
	assert.Equal(t, postRequest{Text: "hi", Sender: "ci", Limit: 7}, p)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]struct {
		body, ct string
	}{
		"missing text":  {`{"sender":"ci"}`, "application/json"},
		"unknown field": {`{"text":"hi","extra":1}`, "application/json"},
		"bad json":      {`{"text":`, "application/json"},
		"content type":  {`text=hi`, "application/x-www-form-urlencoded"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/inbox", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", tc.ct)
			var p postRequest
			assert.Error(t, Parse(httptest.NewRecorder(), req, &p))
		})
	}

	var notStruct string
	assert.Error(t, Parse(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), &notStruct))
}

func TestErrorWithCode(t *testing.T) {
	rec := httptest.NewRecorder()
	Unauthorized(rec, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"code":401,"message":"unauthorized"}`, rec.Body.String())
}
