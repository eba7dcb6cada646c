package completion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/casaflow/chatcore/internal/model"
)

func history() []model.Message {
	return []model.Message{
		{ID: "m1", Role: model.RoleUser, Content: "my faucet is dripping"},
	}
}

func TestComplete_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/complete", r.URL.Path)
		var req completeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		require.Equal(t, "user", req.Messages[0].Role)

		_ = json.NewEncoder(w).Encode(Result{
			Content:          "I can help with that.",
			TicketSuggestion: &model.TicketSuggestion{Title: "Dripping faucet"},
			Insights:         []string{"plumbing issue"},
		})
	}))
	defer srv.Close()

	svc := NewHTTPService(srv.URL, 5*time.Second)
	res, err := svc.Complete(context.Background(), history())
	require.NoError(t, err)
	require.Equal(t, "I can help with that.", res.Content)
	require.NotNil(t, res.TicketSuggestion)
	require.Equal(t, []string{"plumbing issue"}, res.Insights)
}

func TestComplete_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(Result{Content: "ok"})
	}))
	defer srv.Close()

	svc := NewHTTPService(srv.URL, 5*time.Second, WithRetries(5))
	res, err := svc.Complete(context.Background(), history())
	require.NoError(t, err)
	require.Equal(t, "ok", res.Content)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestComplete_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	svc := NewHTTPService(srv.URL, 5*time.Second, WithRetries(5))
	_, err := svc.Complete(context.Background(), history())
	require.Error(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestComplete_HonorsCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_ = json.NewEncoder(w).Encode(Result{Content: "too late"})
	}))
	defer srv.Close()
	defer close(release)

	svc := NewHTTPService(srv.URL, 30*time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := svc.Complete(ctx, history())
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Complete did not return after cancellation")
	}
}

func TestStreamComplete_DeliversChunksInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		_ = enc.Encode(Chunk{Content: "Dear "})
		_ = enc.Encode(Chunk{Content: "tenant,"})
		_ = enc.Encode(Chunk{Done: true})
	}))
	defer srv.Close()

	svc := NewHTTPService(srv.URL, 5*time.Second)
	ch, err := svc.StreamComplete(context.Background(), history())
	require.NoError(t, err)

	var got []string
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		if chunk.Content != "" {
			got = append(got, chunk.Content)
		}
	}
	require.Equal(t, []string{"Dear ", "tenant,"}, got)
}
