package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/tebiki/internal/config"
)

func newIdleServer() *Server {
	return NewServer(nil, nil, nil, nil, &config.ServerConfig{Host: "127.0.0.1", Port: 0}, nil)
}

func waitStart(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestServer_StopBeforeStart(t *testing.T) {
	srv := newIdleServer()
	require.NoError(t, srv.Stop(context.Background()))

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()
	waitStart(t, done)
}

func TestServer_StopRacingStart(t *testing.T) {
	for range 20 {
		srv := newIdleServer()
		done := make(chan error, 1)
		go func() { done <- srv.Start() }()
		require.NoError(t, srv.Stop(context.Background()))
		waitStart(t, done)
	}
}
