package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/multidoc/gateway/internal/auth"
	"github.com/multidoc/gateway/internal/log"
	"github.com/multidoc/gateway/internal/model"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	configFileName = "gateway.yaml"
	configEnv      = "GATEWAYCONFIG"
	defaultUser    = "admin"
)

var (
	userConfigPath string // /default/config/path/gateway on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "gateway")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is "+configFileName+" in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initGateway

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hashPasswordCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("gateway failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "gateway",
	Short:        "HTTP gateway running a command line tool for logged in users",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve reads the configuration and serves the HTTP API until interrupted",
	Args:  cobra.NoArgs,
	RunE:  doServe,
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "hash-password reads a password from stdin and prints a hash for auth.users[].password_hash",
	Args:  cobra.NoArgs,
	// no config needed
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE:              doHashPassword,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a gateway",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("gateway: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:  %s\n", configPath)
		}
		fmt.Printf("gateway: %s\n", info.Main.Version)
		fmt.Printf("go:      %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:  %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:    %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:   %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func doHashPassword(cmd *cobra.Command, _ []string) error {
	password, err := readPassword(cmd.InOrStdin())
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
	return err
}

// readPassword returns the first line of r without the line ending.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func initGateway(cmd *cobra.Command, _ []string) error {
	configPath = lookupConfig(os.Getenv(configEnv), flagConfigFilePath, userConfigPath, ".")

	// store default configuration
	if configPath == "" {
		configPath = filepath.Join(userConfigPath, configFileName)
		var err error
		config, err = createDefaultConfig(cmd.Context(), configPath, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
	} else {
		var err error
		config, err = loadConfig(configPath)
		if err != nil {
			return err
		}
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Verbose = true
	}

	slog.SetDefault(log.New(os.Stderr, config.Verbose))

	slog.Debug("gateway run", "configPath", configPath)
	slog.Debug("gateway run", "config", redacted(config))
	return nil
}

// lookupConfig returns the config file to use: the environment variable, then
// the --config flag, then the first gateway.yaml found in dirs. "" means none.
func lookupConfig(env, flag string, dirs ...string) string {
	if env != "" {
		return env
	}
	if flag != "" {
		return flag
	}
	for _, d := range dirs {
		path := filepath.Join(d, configFileName)
		if exists(path) {
			return path
		}
	}
	return ""
}

func loadConfig(path string) (model.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Config{}, fmt.Errorf("opening config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	cfg, err := model.LoadConfig(f)
	if err != nil {
		for _, d := range model.CueErrDetails(err) {
			slog.Error("invalid config", d.Attr("detail"))
		}
		return model.Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return *cfg, nil
}

// createDefaultConfig stores the default configuration to path. As there is no
// user to log in with, it adds one with a random password printed to w.
func createDefaultConfig(ctx context.Context, path string, w io.Writer) (model.Config, error) {
	cfg := model.DefaultConfig(ctx)
	password := uuid.NewString()
	hash, err := auth.HashPassword(password)
	if err != nil {
		return model.Config{}, err
	}
	cfg.Auth.Users = []model.User{{Username: defaultUser, PasswordHash: hash}}

	err = os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return model.Config{}, fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return model.Config{}, fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return model.Config{}, fmt.Errorf("storing configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return model.Config{}, fmt.Errorf("storing configuration: %w", err)
	}

	_, err = fmt.Fprintf(w, "default configuration stored to %s\nuser: %s\npassword: %s\n", path, defaultUser, password)
	return cfg, err
}

func redacted(cfg model.Config) model.Config {
	users := make([]model.User, len(cfg.Auth.Users))
	for i, u := range cfg.Auth.Users {
		users[i] = model.User{Username: u.Username, PasswordHash: "<redacted>"}
	}
	cfg.Auth.Users = users
	return cfg
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
