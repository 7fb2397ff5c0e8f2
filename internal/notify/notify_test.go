package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestTelegramSend(t *testing.T) {
	var gotURL string
	var body map[string]any
	n := NewTelegram("token", "chat")
	n.HTTP = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		gotURL = req.URL.String()
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(`{"ok":true}`))}, nil
	})}

	require.NoError(t, n.Send(context.Background(), "🚨 router DOWN!"))
	assert.Equal(t, "https://api.telegram.org/bottoken/sendMessage", gotURL)
	assert.Equal(t, "chat", body["chat_id"])
	assert.Equal(t, "🚨 router DOWN!", body["text"])
}

func TestTelegramErrorStatus(t *testing.T) {
	n := NewTelegram("token", "chat")
	n.HTTP = &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusUnauthorized, Body: io.NopCloser(strings.NewReader(`{"ok":false}`))}, nil
	})}
	err := n.Send(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestTelegramDisabledWithoutCredentials(t *testing.T) {
	n := NewTelegram("", "")
	n.HTTP = &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})}
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Send(context.Background(), "x"))
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func TestAsyncDeliversInOrder(t *testing.T) {
	rec := &recordingSender{}
	a := NewAsync(rec, discard(), 8)
	assert.True(t, a.Notify("one"))
	assert.True(t, a.Notify("two"))
	a.Close()

	assert.Equal(t, []string{"one", "two"}, rec.msgs)
	assert.False(t, a.Notify("late"), "closed queue rejects")
}

func TestAsyncSwallowsFailures(t *testing.T) {
	rec := &recordingSender{err: errors.New("network down")}
	a := NewAsync(rec, discard(), 8)
	assert.True(t, a.Notify("one"))
	assert.True(t, a.Notify("two"))
	a.Close()
	assert.Len(t, rec.msgs, 2)
}

type blockingSender struct{ release chan struct{} }

func (b *blockingSender) Send(ctx context.Context, _ string) error {
	<-b.release
	return nil
}

func TestAsyncNeverBlocksWhenFull(t *testing.T) {
	b := &blockingSender{release: make(chan struct{})}
	a := NewAsync(b, discard(), 1)

	accepted := 0
	for i := 0; i < 5; i++ {
		if a.Notify("msg") {
			accepted++
		}
	}
	// one in flight in the worker, one queued; the rest are dropped
	assert.LessOrEqual(t, accepted, 2)
	assert.GreaterOrEqual(t, accepted, 1)

	close(b.release)
	a.Close()
}
