package notifier_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/italolelis/mjai_downloader/internal/notifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var got map[string]string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	err := notifier.NewDiscordNotifier(ts.URL).Notify(context.Background(), "sweep finished")
	require.NoError(t, err)
	assert.Equal(t, "sweep finished", got["content"])
}

func TestDiscordNotifier_Errors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	err := notifier.NewDiscordNotifier(ts.URL).Notify(context.Background(), "x")
	assert.ErrorContains(t, err, "status 429")

	err = (&notifier.DiscordNotifier{}).Notify(context.Background(), "x")
	assert.ErrorContains(t, err, "webhook URL is not set")
}
