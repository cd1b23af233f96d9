/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package profserver

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratelimit/log/logtest"
	"github.com/acronis/go-ratelimit/service"
)

func TestProfServer_Start(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	profServer := NewWithOpts(NewDefaultConfig(), logtest.NewRecorder(), service.HTTPUnitOpts{Listener: ln})
	fatalErr := make(chan error, 1)
	go profServer.Start(fatalErr)
	defer func() {
		require.NoError(t, profServer.Stop(false))
		require.Empty(t, fatalErr)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	addr, err := profServer.Addr(ctx)
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/debug/pprof/") //nolint:noctx // test
	require.NoError(t, err)
	defer func() { require.NoError(t, resp.Body.Close()) }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NotEmpty(t, respBody)
}
