package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"lrurec/internal/dataset"
	"lrurec/internal/recmodel"
	"lrurec/internal/storage"
	api "lrurec/pkg/lrurec"
)

const logLevelEnv = "LRUREC_LOG_LEVEL"

// loadEnv reads .env from the working directory when present. Variables
// already set in the environment win.
func loadEnv() error {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// commonFlags are shared by every subcommand that talks to the store.
type commonFlags struct {
	store    *string
	dbPath   *string
	logLevel *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		store:    fs.String("store", storage.DefaultStoreKind(), "store backend: memory|leveldb|sqlite"),
		dbPath:   fs.String("db-path", "", "database path (default from LRUREC_DB_PATH or per backend)"),
		logLevel: fs.String("log-level", defaultLogLevel(), "log level: debug|info|warn|error"),
	}
}

type targetFlags struct {
	id     *string
	latest *bool
}

func addTargetFlags(fs *flag.FlagSet) targetFlags {
	return targetFlags{
		id:     fs.String("id", "", "checkpoint id"),
		latest: fs.Bool("latest", false, "use the newest checkpoint"),
	}
}

func (t targetFlags) target() (api.Target, error) {
	if *t.id == "" && !*t.latest {
		return api.Target{}, errors.New("--id or --latest is required")
	}
	return api.Target{CheckpointID: *t.id, Latest: *t.latest}, nil
}

func defaultLogLevel() string {
	if level := strings.TrimSpace(os.Getenv(logLevelEnv)); level != "" {
		return level
	}
	return "info"
}

// newLogger writes human-readable logs to terminals and JSON lines otherwise.
func newLogger(level string, w io.Writer) (*logrus.Logger, error) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(parsed)
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger, nil
}

func newClient(flags commonFlags) (*api.Client, error) {
	logger, err := newLogger(*flags.logLevel, logOutput)
	if err != nil {
		return nil, err
	}
	return api.New(api.Options{
		StoreKind: *flags.store,
		DBPath:    *flags.dbPath,
		Logger:    logger,
	})
}

// loadModelConfig decodes a JSON config file over the defaults. An empty
// path yields the defaults.
func loadModelConfig(path string) (recmodel.Config, error) {
	cfg := recmodel.DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return recmodel.Config{}, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return recmodel.Config{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

// setFlags reports the names of flags given on the command line.
func setFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

// parseIDs reads id arrays from raw, or from path when raw is empty. Both
// a bare JSON array and a build-sequences file are accepted.
func parseIDs(raw, path, name string) ([][]int, error) {
	data := []byte(raw)
	if raw == "" {
		if path == "" {
			return nil, fmt.Errorf("--%s or --%s-file is required", name, name)
		}
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, err
		}
	}
	file, err := dataset.DecodeSequences(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	if len(file.Sequences) == 0 {
		return nil, fmt.Errorf("%s must not be empty", name)
	}
	return file.Sequences, nil
}
