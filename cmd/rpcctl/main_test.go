package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"formrpc/digest"
	"formrpc/message"
	"formrpc/server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"name=a=b", "n:=0", "flag:=false", "empty=", "ratio:=0.5"})
	require.NoError(t, err)

	assert.Equal(t, message.String("a=b"), params["name"])
	assert.Equal(t, message.Int(0), params["n"])
	assert.Equal(t, message.Bool(false), params["flag"])
	assert.Equal(t, message.String(""), params["empty"])
	assert.Equal(t, message.Float(0.5), params["ratio"])

	_, err = parseParams([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseParams([]string{"obj:={}"})
	assert.Error(t, err)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "off"))
	err := cmd.Execute()
	return out.String(), err
}

func TestHashCommand(t *testing.T) {
	out, err := run(t, "hash", "Alice", "secret", "--challenge", "tok123")
	require.NoError(t, err)

	lines := strings.Fields(out)
	require.Len(t, lines, 2)
	hash := digest.PasswordHash("Alice", "secret")
	assert.Equal(t, hash, lines[0])
	assert.Equal(t, digest.LoginProof(hash, "tok123"), lines[1])
}

func TestCallAndMulticallCommands(t *testing.T) {
	srv := server.NewServer()
	srv.AddUser("alice", "secret")
	srv.HandleAuth("account/whoami", func(ctx context.Context, req *server.Request) (any, error) {
		return req.User, nil
	})
	hs := httptest.NewServer(srv)
	defer hs.Close()

	out, err := run(t, "call", "account/whoami", "--login", "--url", hs.URL, "-u", "alice", "-p", "secret")
	require.NoError(t, err)
	assert.Equal(t, `"alice"`, strings.TrimSpace(out))

	batchFile := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, os.WriteFile(batchFile, []byte(`[
		{"method":"account/whoami"},
		{"method":"account/nope","breaking":true},
		{"method":"account/whoami"}
	]`), 0o600))

	out, err = run(t, "multicall", batchFile, "--login", "--url", hs.URL, "-u", "alice", "-p", "secret")
	require.NoError(t, err)

	var results []batchOutput
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.True(t, results[2].Skipped)
}

func TestCallNeedsEndpoint(t *testing.T) {
	_, err := run(t, "call", "x")
	assert.Error(t, err)
}
