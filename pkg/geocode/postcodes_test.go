package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(url string) *Client {
	return New(Config{BaseURL: url, RetryMax: 2, RetryWaitMin: time.Millisecond, RetryWaitMax: 5 * time.Millisecond})
}

func TestGeocode_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/postcodes/SW1A 1AA", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":200,"result":{"postcode":"SW1A 1AA","latitude":51.501009,"longitude":-0.141588}}`))
	}))
	defer srv.Close()

	loc, err := testClient(srv.URL).Geocode(context.Background(), " sw1a 1aa ")
	require.NoError(t, err)
	assert.InDelta(t, 51.501009, loc.Latitude, 1e-9)
	assert.InDelta(t, -0.141588, loc.Longitude, 1e-9)
}

func TestGeocode_NotFound(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":404,"error":"Invalid postcode"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Geocode(context.Background(), "ZZ1 1ZZ")
	assert.ErrorIs(t, err, ErrPostcodeNotFound)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "404 is not retried")
}

func TestGeocode_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"status":502,"error":"bad gateway"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":200,"result":{"latitude":53.48,"longitude":-2.24}}`))
	}))
	defer srv.Close()

	loc, err := testClient(srv.URL).Geocode(context.Background(), "M1 1AE")
	require.NoError(t, err)
	assert.InDelta(t, 53.48, loc.Latitude, 1e-9)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGeocode_UpstreamDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Geocode(context.Background(), "M1 1AE")
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestGeocode_NoCoordinates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":200,"result":{"latitude":null,"longitude":null}}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Geocode(context.Background(), "GY1 1AA")
	assert.ErrorIs(t, err, ErrPostcodeNotFound)
}

func TestGeocode_EmptyPostcode(t *testing.T) {
	_, err := New(Config{}).Geocode(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrPostcodeNotFound)
}
