package classify

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	ttls := TTLs{Default: 21 * 24 * time.Hour, Short: 3 * 24 * time.Hour}

	tests := []struct {
		name          string
		body          string
		wantStatus    string
		wantCacheable bool
		wantTTL       time.Duration
	}{
		{
			name:          "ok",
			body:          `{"results":[{"place_id":"x"}],"status":"OK"}`,
			wantStatus:    "OK",
			wantCacheable: true,
			wantTTL:       21 * 24 * time.Hour,
		},
		{
			name:          "zero results",
			body:          `{"results":[],"status":"ZERO_RESULTS"}`,
			wantStatus:    "ZERO_RESULTS",
			wantCacheable: true,
			wantTTL:       3 * 24 * time.Hour,
		},
		{
			name:       "over query limit",
			body:       `{"error_message":"quota","results":[],"status":"OVER_QUERY_LIMIT"}`,
			wantStatus: "OVER_QUERY_LIMIT",
		},
		{
			name:       "request denied",
			body:       `{"status":"REQUEST_DENIED"}`,
			wantStatus: "REQUEST_DENIED",
		},
		{
			name:       "invalid request",
			body:       `{"status":"INVALID_REQUEST"}`,
			wantStatus: "INVALID_REQUEST",
		},
		{
			name:       "unknown error",
			body:       `{"status":"UNKNOWN_ERROR"}`,
			wantStatus: "UNKNOWN_ERROR",
		},
		{
			name: "missing status",
			body: `{"results":[]}`,
		},
		{
			name:       "lowercase ok is not ok",
			body:       `{"status":"ok"}`,
			wantStatus: "ok",
		},
		{
			name: "status not a string",
			body: `{"status":200}`,
		},
		{
			name: "array body",
			body: `[{"status":"OK"}]`,
		},
		{
			name: "not json",
			body: `Bad Gateway`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify([]byte(tt.body), ttls)
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", got.Status, tt.wantStatus)
			}
			if got.Cacheable != tt.wantCacheable {
				t.Errorf("Cacheable = %v, want %v", got.Cacheable, tt.wantCacheable)
			}
			if got.TTL != tt.wantTTL {
				t.Errorf("TTL = %v, want %v", got.TTL, tt.wantTTL)
			}
		})
	}
}
