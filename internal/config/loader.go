package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1 << 20
	appDirName        = "policyqa"
)

// sections are the top-level koanf keys of Config. Environment variables
// outside them (HOME, PATH) never reach the config tree.
var sections = map[string]bool{
	"server": true, "credentials": true, "vectorstore": true,
	"embeddings": true, "llm": true, "ingest": true, "query": true,
	"events": true, "observability": true,
}

// listKeys hold comma-separated lists when set from the environment.
var listKeys = map[string]bool{
	"server.cors_origins": true,
}

// LoadWithFile loads configuration from a YAML file, overrides it with
// environment variables, applies defaults and validates the result.
//
// An empty configPath means ~/.config/policyqa/config.yaml. A missing file
// is not an error. An existing file must sit in ~/.config/policyqa/ or
// /etc/policyqa/, be mode 0600 or 0400 and be at most 1MB.
//
// Environment variables name the section before the first underscore:
//
//	SERVER_HTTP_PORT              -> server.http_port
//	SERVER_CORS_ORIGINS=a,b       -> server.cors_origins [a b]
//	CREDENTIALS_EMBEDDING_API_KEY -> credentials.embedding_api_key
//	VECTORSTORE_QDRANT_HOST       -> vectorstore.qdrant_host
func LoadWithFile(configPath string) (*Config, error) {
	if configPath == "" {
		dir, err := DefaultConfigDir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}
	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	k := koanf.New(".")

	content, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// readConfigFile returns the file's content, or nil when it does not exist.
// Permissions and size are checked on the open descriptor so the file
// cannot be swapped between the check and the read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := checkFileInfo(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config file validation failed: config file too large (max %d bytes)", maxConfigFileSize)
	}
	return content, nil
}

// envValue maps an environment variable to its koanf key and value. An
// empty key drops the variable.
func envValue(name, value string) (string, any) {
	key := envKey(name)
	section, _, ok := strings.Cut(key, ".")
	if !ok || !sections[section] {
		return "", nil
	}
	if listKeys[key] {
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return key, items
	}
	return key, value
}

// envKey maps SECTION_FIELD_NAME to section.field_name. Only the first
// underscore separates, so compound field names stay intact.
func envKey(name string) string {
	lower := strings.ToLower(name)
	if section, field, ok := strings.Cut(lower, "_"); ok {
		return section + "." + field
	}
	return lower
}

// DefaultConfigDir returns ~/.config/policyqa.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", appDirName), nil
}

// validateConfigPath accepts paths inside the user or system config
// directory, after resolving symlinks. The file need not exist.
func validateConfigPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	userDir, err := DefaultConfigDir()
	if err != nil {
		return err
	}
	for _, dir := range []string{userDir, filepath.Join("/etc", appDirName)} {
		if rel, err := filepath.Rel(dir, abs); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/%s/ or /etc/%s/", appDirName, appDirName)
}

func checkFileInfo(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm != 0o600 && perm != 0o400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
