package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	internalnet "github.com/chatwire/chatwire/internal/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStatusEndpoint(t *testing.T) {
	addr, err := internalnet.EphemeralLocalAddr()
	require.NoError(t, err)

	s := NewServer(zap.NewNop().Sugar(), addr, func() interface{} {
		return map[string]string{"state": "active"}
	})
	go s.Run()
	defer s.Stop(context.Background())

	var resp *http.Response
	url := fmt.Sprintf("http://%s/status", addr)
	require.Eventually(t, func() bool {
		var getErr error
		resp, getErr = http.Get(url)
		return getErr == nil
	}, 5*time.Second, 20*time.Millisecond)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "active", body["state"])
}
