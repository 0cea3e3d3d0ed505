package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"ticket-pass/models"
)

const descriptorYAML = `ticket_id: tkt_cli
event_id: evt_9
event_name: Dockside Sessions
date: "2026-11-20"
seat: C-3
`

func writeDescriptor(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ticket.yaml")
	require.NoError(t, os.WriteFile(path, []byte(descriptorYAML), 0600))
	return path
}

func TestIssueThenVerify_MAC(t *testing.T) {
	dir := t.TempDir()
	common := []string{"--secret", "cli-base-secret", "--signing-secret", "cli-signing", "--kdf-secret", "cli-kdf"}

	var out bytes.Buffer
	args := append([]string{"issue", "--descriptor", writeDescriptor(t),
		"--qr", filepath.Join(dir, "qr.png"), "--barcode", filepath.Join(dir, "barcode.png")}, common...)
	require.NoError(t, run(args, nil, &out))

	var issued issueOutput
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &issued))
	assert.Equal(t, "tkt_cli", issued.TicketID)
	assert.True(t, strings.HasPrefix(issued.Barcode, "TKT"))
	assert.Len(t, issued.Barcode, 20)
	assert.FileExists(t, filepath.Join(dir, "qr.png"))
	assert.FileExists(t, filepath.Join(dir, "barcode.png"))

	out.Reset()
	require.NoError(t, run(append([]string{"verify", "-"}, common...), strings.NewReader(issued.Envelope+"\n"), &out))

	var descriptor models.TicketDescriptor
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &descriptor))
	assert.Equal(t, "Dockside Sessions", descriptor.EventName)
	assert.Equal(t, "C-3", descriptor.Seat)

	err := run([]string{"verify", "--envelope", issued.Envelope, "--secret", "other", "--signing-secret", "cli-signing", "--kdf-secret", "cli-kdf"}, nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode_failure")
}

func TestIssueThenVerify_Ed25519(t *testing.T) {
	keyDir := filepath.Join(t.TempDir(), "keys")

	var out bytes.Buffer
	require.NoError(t, run([]string{"keygen", "--dir", keyDir}, nil, &out))
	keys := map[string]string{}
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &keys))
	assert.Len(t, keys["base_secret"], 43)
	assert.True(t, strings.HasPrefix(keys["secret_seal_identity"], "AGE-SECRET-KEY-1"))

	common := []string{"--secret", keys["base_secret"], "--key-dir", keyDir, "--kdf-secret", "cli-kdf"}
	out.Reset()
	require.NoError(t, run(append([]string{"issue", "--descriptor", writeDescriptor(t)}, common...), nil, &out))
	var issued issueOutput
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &issued))

	out.Reset()
	require.NoError(t, run(append([]string{"verify", "--envelope", issued.Envelope}, common...), nil, &out))
	assert.Contains(t, out.String(), "tkt_cli")
}

func TestBarcodeCommand(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"barcode", "--secret", "s", "--prefix", "GTE"}, nil, &out))
	assert.True(t, strings.HasPrefix(out.String(), "GTE"))
	assert.Contains(t, out.String(), "window=")

	err := run([]string{"barcode", "--secret", " "}, nil, &out)
	assert.Error(t, err)
}

func TestRun_Usage(t *testing.T) {
	assert.ErrorIs(t, run(nil, nil, &bytes.Buffer{}), errUsage)
	assert.ErrorIs(t, run([]string{"frobnicate"}, nil, &bytes.Buffer{}), errUsage)
	assert.Error(t, run([]string{"issue"}, nil, &bytes.Buffer{}))
	assert.Error(t, run([]string{"issue", "--descriptor", "x.yaml"}, nil, &bytes.Buffer{}))
}
