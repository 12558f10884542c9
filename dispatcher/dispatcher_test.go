package dispatcher_test

import (
	"context"
	"crypto/ed25519"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/proofmesh/proofmesh/dispatcher"
	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/signing"
	"github.com/proofmesh/proofmesh/types"
)

func newSigner(t *testing.T) *signing.Signer {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	s, err := signing.NewSigner(priv)
	require.NoError(t, err)
	return s
}

func request(srv *httptest.Server, route string, timeout time.Duration) *shared.Request {
	return &shared.Request{
		Worker:  shared.WorkerInfo{Address: strings.TrimPrefix(srv.URL, "http://"), Identity: "target"},
		Route:   route,
		Circuit: &shared.Circuit{ID: "c", Timeout: timeout},
		Payload: []byte(`{"model_id":"c"}`),
	}
}

func TestDispatchAllPreservesOrder(t *testing.T) {
	t.Parallel()
	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(t))
	signer := newSigner(t)

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			body, _ := io.ReadAll(r.Body)
			creds, err := signing.CredentialsFrom(r.Header)
			if err != nil || !creds.VerifyPayload(body) || creds.Target != "target" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"proof":"abcd","public_signals":"[1]"}`))
		case "/fail":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("An error occurred"))
		case "/garbage":
			_, _ = w.Write([]byte("not json"))
		case "/slow":
			select {
			case <-block:
			case <-r.Context().Done():
			}
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(block) })

	d := dispatcher.New(signer)
	requests := []*shared.Request{
		request(srv, "slow", 50*time.Millisecond),
		request(srv, "ok", time.Second),
		request(srv, "fail", time.Second),
		request(srv, "garbage", time.Second),
		{Worker: shared.WorkerInfo{Address: "127.0.0.1:1"}, Route: "capacities", Payload: []byte(`{}`)},
		request(srv, "ok", time.Second),
	}

	started := time.Now()
	results := d.DispatchAll(ctx, requests)
	require.Less(t, time.Since(started), 30*time.Second)
	require.Len(t, results, len(requests))
	for i, res := range results {
		require.Same(t, requests[i], res.Request)
	}

	require.ErrorIs(t, results[0].Err, types.ErrTransport)
	require.ErrorIs(t, results[0].Err, context.DeadlineExceeded)

	require.True(t, results[1].OK())
	require.JSONEq(t, `{"proof":"abcd","public_signals":"[1]"}`, string(results[1].Body))
	require.Positive(t, results[1].Request.Latency)

	var statusErr *types.StatusError
	require.True(t, errors.As(results[2].Err, &statusErr))
	require.Equal(t, http.StatusInternalServerError, statusErr.Code)
	require.ErrorIs(t, results[2].Err, types.ErrTransport)

	require.ErrorIs(t, results[3].Err, types.ErrMalformedResponse)
	require.ErrorIs(t, results[4].Err, types.ErrTransport)
	require.True(t, results[5].OK())
}

func TestDefaultTimeoutWithoutCircuit(t *testing.T) {
	t.Parallel()
	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(t))
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(block) })

	cfg := dispatcher.DefaultConfig()
	cfg.DefaultTimeout = 20 * time.Millisecond
	d := dispatcher.New(newSigner(t), dispatcher.WithConfig(cfg))

	req := request(srv, "capacities", 0)
	req.Circuit = nil
	results := d.DispatchAll(ctx, []*shared.Request{req})
	require.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
}

func TestDispatchEmptyBatch(t *testing.T) {
	t.Parallel()
	d := dispatcher.New(newSigner(t))
	require.Empty(t, d.DispatchAll(context.Background(), nil))
}
