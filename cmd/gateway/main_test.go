package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/multidoc/gateway/internal/auth"
	"github.com/multidoc/gateway/internal/model"
	"github.com/multidoc/gateway/internal/service"

	"github.com/stretchr/testify/require"
)

func TestLookupConfig(t *testing.T) {
	t.Parallel()
	first := t.TempDir()
	second := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(second, configFileName), []byte("version: 0\n"), 0o600))

	require.Equal(t, "/env.yaml", lookupConfig("/env.yaml", "/flag.yaml", first, second))
	require.Equal(t, "/flag.yaml", lookupConfig("", "/flag.yaml", first, second))
	require.Equal(t, filepath.Join(second, configFileName), lookupConfig("", "", first, second))
	require.Empty(t, lookupConfig("", "", first))
}

func TestCreateDefaultConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "gateway", configFileName)
	var out bytes.Buffer
	cfg, err := createDefaultConfig(t.Context(), path, &out)
	require.NoError(t, err)
	require.Len(t, cfg.Auth.Users, 1)

	m := regexp.MustCompile(`(?m)^password: (\S+)$`).FindStringSubmatch(out.String())
	require.Len(t, m, 2)
	password := m[1]

	loaded, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Tool.Dir, loaded.Tool.Dir)
	require.Equal(t, []string{"run", "app.go", "-lc"}, loaded.Tool.Argv(true))

	verifier, err := auth.NewStaticVerifier(loaded.Auth.Users)
	require.NoError(t, err)
	require.True(t, verifier.Verify(t.Context(), defaultUser, password))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = createDefaultConfig(t.Context(), path, io.Discard)
	require.Error(t, err, "existing config must not be overwritten")
}

func TestReadPassword(t *testing.T) {
	t.Parallel()
	for given, then := range map[string]string{
		"secret\n":         "secret",
		"secret\r\n":       "secret",
		"secret":           "secret",
		" spaced pw \nx\n": " spaced pw ",
		"":                 "",
	} {
		got, err := readPassword(strings.NewReader(given))
		require.NoError(t, err)
		require.Equal(t, then, got)
	}
}

func TestWriteTimeout(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		timeout     string
		modeTimeout string
		then        time.Duration
	}{
		{"5m", "10m", 11 * time.Minute},
		{"20m", "10m", 21 * time.Minute},
	}
	for _, tc := range testCases {
		t.Run(tc.timeout+"/"+tc.modeTimeout, func(t *testing.T) {
			t.Parallel()
			s, err := service.NewSupervisor(model.Tool{
				Dir:         t.TempDir(),
				Timeout:     tc.timeout,
				ModeTimeout: tc.modeTimeout,
			}, service.NewRunner())
			require.NoError(t, err)
			require.Equal(t, tc.then, writeTimeout(s))
		})
	}
}

func TestServe(t *testing.T) {
	t.Parallel()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	hash, err := auth.HashPassword("secret")
	require.NoError(t, err)

	noEntry := ""
	cfg := model.DefaultConfig(t.Context())
	cfg.Tool = model.Tool{
		Path:  sh,
		Args:  []string{"-c", `read p; printf 'you said %s' "$p"`},
		Entry: &noEntry,
		Dir:   t.TempDir(),
	}
	cfg.Auth.Users = []model.User{{Username: "admin", PasswordHash: hash}}
	cfg.History.Dir = t.TempDir()
	cfg.Server.ShutdownTimeout = "5s"

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, cfg, ln)
	}()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar, Timeout: 10 * time.Second}

	post := func(path, body string) (int, string) {
		t.Helper()
		resp, err := client.Post(base+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer func() {
			_ = resp.Body.Close()
		}()
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(data)
	}

	code, _ := post("/run", `{"prompt":"hello"}`)
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = post("/login", `{"username":"admin","password":"secret"}`)
	require.Equal(t, http.StatusOK, code)

	code, body := post("/run", `{"prompt":"hello"}`)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"status":"success","output":"you said hello","error":""}`, body)

	code, _ = post("/api/history", `{"prompt":"hello","response":"you said hello"}`)
	require.Equal(t, http.StatusOK, code)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}
