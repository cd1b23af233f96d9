/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const memoryStoreConfig = `
log:
  level: error
  output: stderr
store:
  type: memory
limiter:
  failureStrategy: fail-closed
  throttlers:
    default:
      limitCount: 2
      windowDurationMs: 60000
    login:
      limitCount: 1
      windowDurationMs: 60000
      blockDurationMs: 300000
      exemptKeys: "10.0.0.*"
eviction:
  cleanupIntervalMs: 100
server:
  address: 127.0.0.1:0
`

func writeConfigFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}
