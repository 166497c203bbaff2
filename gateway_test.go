package gateway_test

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	gatewayPath string

	// tmpDir is a function used to create a tempdir
	// -test.keepdir flag says test to use os.MkdirTemp
	// default is t.TempDir, which will be cleaned up
	tmpDir func(t *testing.T) string
)

func TestMain(m *testing.M) {
	var keepTestDir bool
	flag.BoolVar(&keepTestDir, "test.keepdir", false, "use os.TempDir instead of t.TempDir to keep test artifacts")

	flag.Parse()

	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !keepTestDir {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			return t.TempDir()
		}
	} else {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			dir, err := os.MkdirTemp("", t.Name()+"*")
			require.NoError(t, err)
			t.Logf("TEMPDIR %s: -test.keepdir used, so it won't be automatically deleted", dir)
			return dir
		}
	}

	if !isExecutable("gateway-ci") {
		slog.Warn("integration tests ignored, run go build -race -cover -covermode=atomic -o gateway-ci ./cmd/gateway/ first")
		os.Exit(0)
	}

	var err error
	gatewayPath, err = filepath.Abs("gateway-ci")
	if err != nil {
		slog.Error("can't get abspath for gateway-ci", "error", err)
		os.Exit(1)
	}
	coverDir, err := filepath.Abs("coverage")
	if err != nil {
		slog.Error("can't get value for GOCOVERDIR for gateway-ci", "error", err)
		os.Exit(1)
	}
	err = rmRfMkdirp(coverDir)
	if err != nil {
		slog.Error("can't reset GOCOVERDIR for gateway-ci", "error", err, "coverdir", coverDir)
		os.Exit(1)
	}

	err = os.Setenv("GOCOVERDIR", coverDir)
	if err != nil {
		slog.Error("can't set GOCOVERDIR env variable", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func TestGateway(t *testing.T) {
	dir := tmpDir(t)
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)

	// hash-password
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, gatewayPath, "hash-password")
	cmd.Stdin = strings.NewReader("secret\n")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()
	if err != nil {
		t.Logf("%s", stderr.String())
		require.NoError(t, err)
	}
	hash := strings.TrimSpace(stdout.String())
	require.True(t, strings.HasPrefix(hash, "$2a$"), hash)

	// a tool answering the prompt, the mode flag is passed as $0
	projectDir := filepath.Join(dir, "project")
	require.NoError(t, os.MkdirAll(projectDir, 0o755))
	creat(t, filepath.Join(projectDir, "app.sh"), []byte(`read p; printf '%s:%s' "$0" "$p"`))

	addr := freeAddr(t)
	config := fmt.Sprintf(`
version: 0
server:
  addr: %s
  shutdown_timeout: 5s
tool:
  path: %s
  args: ["-c", ". ./app.sh"]
  entry: ""
  dir: %s
auth:
  users:
    - username: admin
      password_hash: '%s'
history:
  dir: %s
`, addr, sh, projectDir, hash, filepath.Join(dir, "history"))
	configPath := filepath.Join(dir, "gateway.yaml")
	creat(t, configPath, []byte(config))

	// serve
	stderr.Reset()
	serve := exec.CommandContext(ctx, gatewayPath, "serve", "--config", configPath, "--verbose")
	serve.Stderr = &stderr
	require.NoError(t, serve.Start())
	waited := false
	t.Cleanup(func() {
		if !waited {
			_ = serve.Process.Kill()
			_ = serve.Wait()
		}
	})

	base := "http://" + addr
	waitListening(t, addr)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar, Timeout: 10 * time.Second}

	code, _ := post(t, client, base+"/login", `{"username":"admin","password":"secret"}`)
	require.Equal(t, http.StatusOK, code)

	code, body := post(t, client, base+"/run", `{"prompt":"hello"}`)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"status":"success","output":"sh:hello","error":""}`, strings.Replace(body, sh, "sh", 1))

	code, body = post(t, client, base+"/run", `{"prompt":"hello","lambdaChat":true}`)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"status":"success","output":"-lc:hello","error":""}`, body)

	code, _ = post(t, client, base+"/api/history", `{"prompt":"hello","response":"-lc:hello"}`)
	require.Equal(t, http.StatusOK, code)
	history, err := os.ReadFile(filepath.Join(dir, "history", "admin_history.json"))
	require.NoError(t, err)
	require.JSONEq(t, `[{"prompt":"hello","response":"-lc:hello"}]`, string(history))

	require.NoError(t, serve.Process.Signal(syscall.SIGTERM))
	err = serve.Wait()
	waited = true
	if err != nil {
		t.Logf("%s", stderr.String())
		require.NoError(t, err)
	}
}

func post(t *testing.T, client *http.Client, url, body string) (int, string) {
	t.Helper()
	resp, err := client.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func waitListening(t *testing.T, addr string) {
	t.Helper()
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 10*time.Second, 50*time.Millisecond)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func rmRfMkdirp(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func creat(t *testing.T, path string, content []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	_, err = f.Write(content)
	require.NoError(t, err)
	err = f.Sync()
	require.NoError(t, err)
}
