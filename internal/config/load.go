package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. MACSWEEP_REPEATS=2.
const EnvPrefix = "MACSWEEP"

// DefaultFileName is looked up in the search directory when no file is given.
const DefaultFileName = "macsweep.yaml"

// LoadOptions controls where settings come from.
type LoadOptions struct {
	// ConfigFile is an explicit settings file; it must exist.
	ConfigFile string
	// SearchDir holds the optional macsweep.yaml and .env; empty means the working directory.
	SearchDir string
}

// Load resolves the configuration. Precedence, highest first: process environment,
// .env in SearchDir, the settings file, built-in defaults.
func Load(opts LoadOptions) (*Config, error) {
	dir := opts.SearchDir
	if dir == "" {
		dir = "."
	}

	v := viper.New()
	setDefaults(v, Default())

	v.SetConfigType("yaml")
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigFile, err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFileName, filepath.Ext(DefaultFileName)))
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	if err := applyDotEnv(v, filepath.Join(dir, ".env")); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	normalize(cfg)
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("subject_dir", d.SubjectDir)
	v.SetDefault("consts_file", d.ConstsFile)
	v.SetDefault("log_dir", d.LogDir)
	v.SetDefault("results_dir", d.ResultsDir)
	v.SetDefault("build_command", d.BuildCommand)
	v.SetDefault("build_timeout", d.BuildTimeout)
	v.SetDefault("total_timeout", d.TotalTimeout)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("grace_period", d.GracePeriod)
	v.SetDefault("settle_delay", d.SettleDelay)
	v.SetDefault("repeats", d.Repeats)
	v.SetDefault("injection", string(d.Injection))
	v.SetDefault("params_file", d.ParamsFile)
	v.SetDefault("log_level", d.LogLevel)

	roles := make([]map[string]any, 0, len(d.Roles))
	for _, r := range d.Roles {
		roles = append(roles, map[string]any{
			"name":     r.Name,
			"side":     string(r.Side),
			"args":     r.Args,
			"log_file": r.LogFile,
			"delay":    r.Delay,
		})
	}
	v.SetDefault("roles", roles)
}

// applyDotEnv feeds MACSWEEP_* entries of a .env file into v, unless the process
// environment already carries the same variable. A missing file is not an error.
func applyDotEnv(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read .env file %s: %w", path, err)
	}

	envMap, err := godotenv.Unmarshal(string(data))
	if err != nil {
		return fmt.Errorf("failed to parse .env file %s: %w", path, err)
	}

	prefix := EnvPrefix + "_"
	for key, value := range envMap {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		v.Set(strings.ToLower(strings.TrimPrefix(key, prefix)), value)
	}
	return nil
}

// normalize splits commands given as a single shell-like string.
func normalize(cfg *Config) {
	cfg.BuildCommand = splitCommand(cfg.BuildCommand)
	for i := range cfg.Roles {
		cfg.Roles[i].Args = splitCommand(cfg.Roles[i].Args)
	}
	cfg.Injection = Injection(strings.ToLower(strings.TrimSpace(string(cfg.Injection))))
}

func splitCommand(argv []string) []string {
	if len(argv) == 1 && strings.ContainsAny(argv[0], " \t") {
		return strings.Fields(argv[0])
	}
	return argv
}
