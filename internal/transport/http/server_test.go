package httptransport

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewServerAppliesDefaults(t *testing.T) {
	srv := NewServer(ServerConfig{Address: ":0"}, http.NotFoundHandler())

	require.Equal(t, defaultReadTimeout, srv.ReadTimeout)
	require.Equal(t, defaultReadTimeout, srv.ReadHeaderTimeout)
	require.Equal(t, defaultWriteTimeout, srv.WriteTimeout)
	require.Equal(t, defaultIdleTimeout, srv.IdleTimeout)
}

func TestNewServerKeepsExplicitTimeouts(t *testing.T) {
	srv := NewServer(ServerConfig{
		Address:      ":0",
		ReadTimeout:  time.Second,
		WriteTimeout: 2 * time.Second,
		IdleTimeout:  3 * time.Second,
	}, http.NotFoundHandler())

	require.Equal(t, time.Second, srv.ReadTimeout)
	require.Equal(t, 2*time.Second, srv.WriteTimeout)
	require.Equal(t, 3*time.Second, srv.IdleTimeout)
}
