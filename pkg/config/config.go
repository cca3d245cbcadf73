package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// FileEnv names a config file when no -config flag is given.
const FileEnv = "COORDINATOR_CONFIG_FILE"

// defaultFiles are tried in order from the working directory.
var defaultFiles = []string{".env", "coordinator.yaml"}

var (
	loadOnce sync.Once
	loadErr  error
)

func MustNew[T any](prefix string) *T {
	conf, err := New[T](prefix)
	if err != nil {
		panic(err)
	}
	return conf
}

// New fills a T from the environment under prefix. The config file, if any,
// is exported into the environment once per process.
func New[T any](prefix string) (*T, error) {
	loadOnce.Do(func() {
		loadErr = loadFile(configFile())
	})
	if loadErr != nil {
		return nil, loadErr
	}

	var conf T
	if err := envconfig.Process(prefix, &conf); err != nil {
		return nil, fmt.Errorf("config %s: %w", prefix, err)
	}
	return &conf, nil
}

func configFile() string {
	path := flagValue()
	if path == "" {
		path = strings.TrimSpace(os.Getenv(FileEnv))
	}
	if path != "" {
		return path
	}
	for _, candidate := range defaultFiles {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

func flagValue() string {
	f := flag.Lookup("config")
	if f == nil {
		f = &flag.Flag{Value: new(stringValue)}
		flag.Var(f.Value, "config", "path to a .env or YAML config file")
	}
	if !flag.Parsed() {
		flag.Parse()
	}
	return strings.TrimSpace(f.Value.String())
}

type stringValue string

func (s *stringValue) String() string     { return string(*s) }
func (s *stringValue) Set(v string) error { *s = stringValue(v); return nil }

func loadFile(path string) error {
	if path == "" {
		return nil
	}
	vars, err := readFile(path)
	if err != nil {
		return fmt.Errorf("load config file %s: %w", path, err)
	}
	for name, value := range vars {
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, value); err != nil {
			return err
		}
	}
	return nil
}

// readFile flattens a .env or YAML file into environment names. Nested YAML
// keys are joined with "_", so coordinator.interval becomes COORDINATOR_INTERVAL.
func readFile(path string) (map[string]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	vars := make(map[string]string, len(v.AllKeys()))
	for _, k := range v.AllKeys() {
		vars[envName(k)] = fmt.Sprint(v.Get(k))
	}
	return vars, nil
}

func envName(key string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}
