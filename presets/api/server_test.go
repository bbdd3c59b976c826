package api

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{Host: "0.0.0.0", Port: 8080}.Validate())
	assert.NoError(t, Config{Host: "localhost", Port: 2490}.Validate())
	assert.Error(t, Config{Port: 8080}.Validate())
	assert.Error(t, Config{Host: "localhost"}.Validate())
	assert.Error(t, Config{Host: "localhost", Port: 70000}.Validate())
	assert.Equal(t, "localhost:2490", Config{Host: "localhost", Port: 2490}.TCPAddr())
}

func TestServer_Run(t *testing.T) {
	router := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
	srv := NewServer(Config{Host: "127.0.0.1"}, router)
	require.NoError(t, srv.Init())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr().String() + "/ping")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * forceStopTimeout):
		t.Fatal("server did not stop")
	}
}

func TestServer_InitFunc(t *testing.T) {
	srv := NewServerWithInitFunc(Config{Host: "127.0.0.1"}, func(context.Context) (http.Handler, error) {
		return nil, assert.AnError
	})
	require.NoError(t, srv.Init())
	err := srv.Run(context.Background())
	assert.ErrorIs(t, err, assert.AnError)

	assert.Error(t, NewServer(Config{}, nil).Init())
}

func TestServer_ListenError(t *testing.T) {
	srv := NewServer(Config{Host: "256.0.0.1", Port: 80}, http.NotFoundHandler())
	assert.Error(t, srv.Run(context.Background()))
}
