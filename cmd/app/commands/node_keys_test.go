package commands

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	cryptoService "github.com/allisson/keymanager/internal/crypto/service"
)

func TestRunCreateREK(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, RunCreateREK(&out, "json"))

		var got keyPairOutput
		require.NoError(t, json.Unmarshal(out.Bytes(), &got))
		require.Equal(t, "NODE_REK_PRIVATE_KEY", got.EnvVar)

		rek, err := cryptoService.LoadNodeREK(got.PrivateKey)
		require.NoError(t, err)
		require.Equal(t, got.PublicKey, base64.StdEncoding.EncodeToString(rek.PublicKey()))
	})

	t.Run("text", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, RunCreateREK(&out, "text"))
		require.Contains(t, out.String(), "NODE_REK_PRIVATE_KEY=\"")
	})

	t.Run("invalid-format", func(t *testing.T) {
		require.Error(t, RunCreateREK(&bytes.Buffer{}, "yaml"))
	})
}

func TestRunCreateRSK(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, RunCreateRSK(&out, "json"))

	var got keyPairOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))

	signer, err := cryptoService.LoadStatusSigner(got.PrivateKey)
	require.NoError(t, err)
	require.Equal(t, got.PublicKey, base64.StdEncoding.EncodeToString(signer.PublicKey()))

	out.Reset()
	require.NoError(t, RunCreateRSK(&out, "text"))
	require.True(t, strings.Contains(out.String(), "NODE_RSK_PRIVATE_KEY=\""))
}
