// File: internal/delivery/client_test.go
package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/authflow-cli/internal/config"
)

func TestDeliverPayloadShape(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var got struct {
			Cookies        map[string]string `json:"cookies"`
			ExpirationDate int64             `json:"expirationDate"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, map[string]string{"j": "session-token"}, got.Cookies)
		assert.Equal(t, int64(999999999), got.ExpirationDate)
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(config.DeliveryConfig{
		Endpoint:   srv.URL + "/user",
		Timeout:    time.Second,
		CookieName: "j",
		Expiration: 999999999,
	}, zap.NewNop())

	require.NoError(t, c.Deliver(context.Background(), "session-token"))
}

func TestDeliverNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := New(config.DeliveryConfig{Endpoint: srv.URL, Timeout: time.Second, CookieName: "j"}, zap.NewNop())
	err := c.Deliver(context.Background(), "session-token")

	var dErr *Error
	require.ErrorAs(t, err, &dErr)
	assert.Contains(t, err.Error(), "502")
}

func TestDeliverTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing is listening anymore

	c := New(config.DeliveryConfig{Endpoint: srv.URL, Timeout: time.Second, CookieName: "j"}, zap.NewNop())
	err := c.Deliver(context.Background(), "session-token")

	var dErr *Error
	require.ErrorAs(t, err, &dErr)
}
