package tokens

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBasicAuthShim(t *testing.T) {
	token := Prefix + "abcdefghijklmnopqrstuvwxyz012345"

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		expect string
	}{
		{
			name:   "promotes token password",
			setup:  func(r *http.Request) { r.SetBasicAuth("anything", token) },
			expect: "Bearer " + token,
		},
		{
			name:   "ignores non-token password",
			setup:  func(r *http.Request) { r.SetBasicAuth("alice", "hunter2") },
			expect: "Basic YWxpY2U6aHVudGVyMg==",
		},
		{
			name:   "keeps bearer header",
			setup:  func(r *http.Request) { r.Header.Set("Authorization", "Bearer other") },
			expect: "Bearer other",
		},
		{
			name:   "ignores malformed basic payload",
			setup:  func(r *http.Request) { r.Header.Set("Authorization", "Basic !!!") },
			expect: "Basic !!!",
		},
		{
			name:   "no header",
			setup:  func(*http.Request) {},
			expect: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := BasicAuthShim(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = r.Header.Get("Authorization")
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
			tt.setup(req)
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.expect, got)
		})
	}
}

func TestBasicAuthShim_FeedsExtractToken(t *testing.T) {
	token := Prefix + "abcdefghijklmnopqrstuvwxyz012345"
	var extracted string
	h := BasicAuthShim(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		extracted, _ = ExtractToken(r)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	req.SetBasicAuth("", token)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, token, extracted)
}
