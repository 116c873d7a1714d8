package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seismic-bv/seismic/internal/contact"
	"github.com/seismic-bv/seismic/internal/errors"
	"github.com/seismic-bv/seismic/internal/nostr"
	"github.com/seismic-bv/seismic/internal/relay"
)

func TestCommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "send", "keygen", "decrypt", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestKeygenJSON(t *testing.T) {
	var out bytes.Buffer
	keygenCmd.SetOut(&out)
	keygenFormat = "json"
	t.Cleanup(func() { keygenFormat = "text" })

	require.NoError(t, runKeygen(keygenCmd, nil))

	var keys keygenOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &keys))
	assert.True(t, strings.HasPrefix(keys.NPub, "npub1"))
	assert.True(t, strings.HasPrefix(keys.NSec, "nsec1"))

	priv, err := nostr.ParsePrivateKey(keys.NSec)
	require.NoError(t, err)
	assert.Equal(t, keys.NPub, priv.PublicKey().NPub())
	assert.Equal(t, keys.PublicHex, priv.PublicKey().Hex())
}

func TestKeygenUnknownFormat(t *testing.T) {
	keygenFormat = "xml"
	t.Cleanup(func() { keygenFormat = "text" })
	assert.Error(t, runKeygen(keygenCmd, nil))
}

func sealedEvent(t *testing.T, recipient *nostr.PrivateKey) []byte {
	t.Helper()
	d, err := contact.NewDispatcher(contact.DispatcherConfig{
		Recipient: recipient.PublicKey(),
		Cipher:    nostr.NIP04,
	}, relay.NewPool(nil))
	require.NoError(t, err)

	ev, err := d.Seal(contact.Form{Name: "Ada", Email: "ada@example.com", Message: "Hello from the terminal"})
	require.NoError(t, err)
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	return raw
}

func TestDecrypt(t *testing.T) {
	recipient, err := nostr.GeneratePrivateKey()
	require.NoError(t, err)
	raw := sealedEvent(t, recipient)

	viper.Set("decrypt.key", recipient.NSec())
	t.Cleanup(func() { viper.Set("decrypt.key", "") })

	t.Run("stdin", func(t *testing.T) {
		var out bytes.Buffer
		decryptCmd.SetIn(bytes.NewReader(raw))
		decryptCmd.SetOut(&out)
		require.NoError(t, decryptCmd.Flags().Set("json", "false"))

		require.NoError(t, runDecrypt(decryptCmd, nil))
		assert.Contains(t, out.String(), "From:    Ada <ada@example.com>")
		assert.Contains(t, out.String(), "Hello from the terminal")
	})

	t.Run("file as json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "event.json")
		require.NoError(t, os.WriteFile(path, raw, 0o600))

		var out bytes.Buffer
		decryptCmd.SetOut(&out)
		require.NoError(t, decryptCmd.Flags().Set("json", "true"))
		t.Cleanup(func() { _ = decryptCmd.Flags().Set("json", "false") })

		require.NoError(t, runDecrypt(decryptCmd, []string{path}))
		var payload contact.Payload
		require.NoError(t, json.Unmarshal(out.Bytes(), &payload))
		assert.Equal(t, "Ada", payload.FromName)
		assert.Equal(t, "Hello from the terminal", payload.Message)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := nostr.GeneratePrivateKey()
		require.NoError(t, err)
		viper.Set("decrypt.key", other.NSec())
		t.Cleanup(func() { viper.Set("decrypt.key", recipient.NSec()) })

		decryptCmd.SetIn(bytes.NewReader(raw))
		decryptCmd.SetOut(&bytes.Buffer{})
		assert.Error(t, runDecrypt(decryptCmd, nil))
	})

	t.Run("invalid json", func(t *testing.T) {
		decryptCmd.SetIn(strings.NewReader("{"))
		err := runDecrypt(decryptCmd, nil)
		assert.True(t, errors.IsValidationError(err))
	})
}

func TestDecryptRequiresKey(t *testing.T) {
	viper.Set("decrypt.key", "")
	err := runDecrypt(decryptCmd, nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestSendRejectsIncompleteForm(t *testing.T) {
	sendCmd.SetContext(context.Background())
	var out bytes.Buffer
	sendCmd.SetOut(&out)

	sendName, sendEmail, sendMessage = "Ada", "", "Hello"
	t.Cleanup(func() { sendName, sendEmail, sendMessage = "", "", "" })

	err := runSend(sendCmd, nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
	assert.Empty(t, out.String(), "nothing was broadcast")
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	printReport(&out, &relay.Report{EventID: "abc", Outcomes: []relay.Outcome{
		{URL: "wss://a.example", Status: relay.StatusAccepted, Latency: 120 * time.Millisecond},
		{URL: "wss://b.example", Status: relay.StatusRejected, Message: "blocked: spam"},
	}})

	assert.Equal(t, "event abc\n"+
		"  accepted wss://a.example (120ms)\n"+
		"  rejected wss://b.example: blocked: spam (0s)\n", out.String())

	out.Reset()
	printReport(&out, nil)
	assert.Empty(t, out.String())
}

func TestVersionJSON(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionFormat = "json"
	t.Cleanup(func() { versionFormat = "text" })

	require.NoError(t, runVersionCommand(versionCmd, nil))
	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "is_release")
}
