// Package testutil provides testing utilities for the geocoding cache proxy.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"
)

// BasePath is the path prefix the mock serves under.
const BasePath = "/maps/api/"

// MockResponse defines the behavior for a mock upstream endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockMaps is a configurable mock of the Maps web service for testing.
type MockMaps struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	requestCount int
	lastQuery    url.Values
}

// NewMockMaps creates a new mock upstream server.
func NewMockMaps() *MockMaps {
	mock := &MockMaps{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.lastQuery = r.URL.Query()
		mock.mu.Unlock()

		path := strings.TrimPrefix(r.URL.Path, BasePath)

		mock.mu.RLock()
		handler, exists := mock.handlers[path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the base URL to configure the origin client with.
func (m *MockMaps) URL() string {
	return m.server.URL + BasePath
}

// Close shuts down the mock server.
func (m *MockMaps) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockMaps) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.lastQuery = nil
}

// SetHandler sets a custom handler for an upstream sub-path (e.g. "geocode/json").
func (m *MockMaps) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a sub-path.
func (m *MockMaps) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// RequestCount returns the number of requests made to the server.
func (m *MockMaps) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// LastQuery returns the query of the most recent request.
func (m *MockMaps) LastQuery() url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQuery
}

// defaultHandler answers like the real service does for a request without a key.
func (m *MockMaps) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	if r.URL.Query().Get("key") == "" {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"error_message":"You must use an API key","results":[],"status":"REQUEST_DENIED"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"results":[],"status":"ZERO_RESULTS"}`))
}

// NewOKResponse creates a 200 response with status OK and one result.
func NewOKResponse() MockResponse {
	return NewStatusResponse("OK", `[{"formatted_address":"1 Infinite Loop, Cupertino, CA 95014, USA","geometry":{"location":{"lat":37.3318,"lng":-122.0312}}}]`)
}

// NewStatusResponse creates a 200 response carrying the given geocoding status.
func NewStatusResponse(status, results string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"results":` + results + `,"status":"` + status + `"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=UTF-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       "internal error",
		Headers: map[string]string{
			"Content-Type": "text/plain",
		},
	}
}
