package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

const appName = "seedbank"

// errSecretKey is returned when a secret is about to be written to disk.
var errSecretKey = errors.New("secret keys are read from the environment only")

// ConfigBackend is the persistent store behind Load and SetKey. Values are
// typed the way the key table declares them.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	GetFloat(key string) (val float64, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	SetFloat(key string, val float64) error
	Delete(key string) error
}

// fileBackend is a flat JSON object keyed by dotted names, for example
//
//	{"storage.collection": "kb", "generator.count": 12, "ollama.temperature": 0.4}
//
// Secret keys are never written, and are dropped with a warning when a
// hand-edited file contains them.
type fileBackend struct {
	path string
	data map[string]any
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, data: make(map[string]any)}
	b.load()
	return b
}

// FilePath is where the config file lives: $XDG_CONFIG_HOME/seedbank/config.json.
func FilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config", "."), appName, "config.json")
}

// defaultDataDir is $XDG_DATA_HOME/seedbank, which holds seedbank.db.
func defaultDataDir() string {
	base := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"), "")
	if base == "" {
		return appName + "-data"
	}
	return filepath.Join(base, appName)
}

// xdgDir resolves an XDG base directory, falling back to ~/homeRel, then to
// fallback when there is no home directory.
func xdgDir(env, homeRel, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, homeRel)
	}
	return fallback
}

func (b *fileBackend) load() {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", b.path, err)
		}
		return
	}
	if err := json.Unmarshal(raw, &b.data); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse config file %s: %v. Using default values.\n", b.path, err)
		b.data = make(map[string]any)
		return
	}
	for key := range b.data {
		if s, ok := lookupSpec(key); ok && s.secret {
			fmt.Fprintf(os.Stderr, "[WARN] ignoring %s in %s; set %s instead.\n", key, b.path, s.env)
			delete(b.data, key)
		}
	}
}

func (b *fileBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	out, err := json.MarshalIndent(b.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(b.path, out, 0o600)
}

func (b *fileBackend) set(key string, v any) error {
	if s, ok := lookupSpec(key); ok && s.secret {
		return fmt.Errorf("%s: %w", key, errSecretKey)
	}
	b.data[key] = v
	return b.save()
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	if s, ok := v.(string); ok {
		return s, true, nil
	}
	return fmt.Sprintf("%v", v), true, nil
}

// number reads key as a float64. JSON numbers decode as float64 and values
// written by older versions may be quoted.
func (b *fileBackend) number(key string) (float64, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	switch val := v.(type) {
	case float64:
		return val, true, nil
	case int:
		return float64(val), true, nil
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, true, fmt.Errorf("invalid number for %s: %w", key, err)
		}
		return f, true, nil
	default:
		return 0, true, fmt.Errorf("invalid type %T for %s", v, key)
	}
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	f, ok, err := b.number(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	if f < math.MinInt || f > math.MaxInt || f != math.Trunc(f) {
		return 0, true, fmt.Errorf("value %v for %s is not a valid integer", f, key)
	}
	return int(f), true, nil
}

func (b *fileBackend) GetFloat(key string) (float64, bool, error) {
	return b.number(key)
}

func (b *fileBackend) SetString(key, val string) error       { return b.set(key, val) }
func (b *fileBackend) SetInt(key string, val int) error       { return b.set(key, val) }
func (b *fileBackend) SetFloat(key string, val float64) error { return b.set(key, val) }

func (b *fileBackend) Delete(key string) error {
	delete(b.data, key)
	return b.save()
}
