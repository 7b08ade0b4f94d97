package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutSubscriptionRequiresBody(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("PUT", "/subscriptions", nil)
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid request"}`, w.Body.String())
}

func TestSubscriptionLifecycle(t *testing.T) {
	f := newAPIFixture(t, nil)
	endpoint := "https://push.example.com/send/abc?token=1"

	w := f.do(t, http.MethodPut, "/subscriptions", map[string]any{
		"endpoint":          endpoint,
		"p256dh":            "key",
		"auth":              "secret",
		"subscribed_messes": []string{"alder", "oak", "birch"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	getPath := "/subscriptions?endpoint=" + url.QueryEscape(endpoint)
	w = f.do(t, http.MethodGet, getPath, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"subscribed_messes":["alder","oak"]}`, w.Body.String())

	// Replacing narrows the followed messes.
	w = f.do(t, http.MethodPut, "/subscriptions", map[string]any{
		"endpoint":          endpoint,
		"p256dh":            "key2",
		"auth":              "secret2",
		"subscribed_messes": []string{"oak"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	w = f.do(t, http.MethodGet, getPath, nil)
	assert.JSONEq(t, `{"subscribed_messes":["oak"]}`, w.Body.String())

	w = f.do(t, http.MethodDelete, "/subscriptions", map[string]any{"endpoint": endpoint})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, getPath, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/subscriptions", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/subscriptions", map[string]any{"endpoint": "not a url", "p256dh": "k", "auth": "a"}).Code)
}

func TestEndpointParamKeepsUnescapedQuery(t *testing.T) {
	got, ok := endpointParam("endpoint=https://push.example.com/x")
	assert.True(t, ok)
	assert.Equal(t, "https://push.example.com/x", got)

	got, ok = endpointParam("a=1&endpoint=https%3A%2F%2Fpush.example.com%2Fy")
	assert.True(t, ok)
	assert.Equal(t, "https://push.example.com/y", got)

	_, ok = endpointParam("a=1")
	assert.False(t, ok)
}

func TestEndpointParamKeepsEndpointQueryAndPlus(t *testing.T) {
	got, ok := endpointParam("endpoint=https://push.example.com/send?a=1&b=2")
	assert.True(t, ok)
	assert.Equal(t, "https://push.example.com/send?a=1&b=2", got)

	got, ok = endpointParam("a=1&endpoint=https://push.example.com/k+ey%2F1")
	assert.True(t, ok)
	assert.Equal(t, "https://push.example.com/k+ey%2F1", got)

	got, ok = endpointParam("endpoint=https%3A%2F%2Fpush.example.com%2Fk+ey&a=1")
	assert.True(t, ok)
	assert.Equal(t, "https://push.example.com/k+ey", got)
}

func TestGetSubscriptionWithRawEndpointQuery(t *testing.T) {
	f := newAPIFixture(t, nil)
	endpoint := "https://push.example.com/send?token=a+b&v=2"

	w := f.do(t, http.MethodPut, "/subscriptions", map[string]any{
		"endpoint":          endpoint,
		"p256dh":            "key",
		"auth":              "secret",
		"subscribed_messes": []string{"alder"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/subscriptions?endpoint="+endpoint, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"subscribed_messes":["alder"]}`, w.Body.String())
}

func TestVAPIDPublicKey(t *testing.T) {
	f := newAPIFixture(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/vapid_public_key", nil).Code)

	f = newAPIFixture(t, &webpush.Options{VAPIDPublicKey: "BPub", TTL: 60})
	w := f.do(t, http.MethodGet, "/vapid_public_key", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"BPub","ttl":60}`, w.Body.String())
}
