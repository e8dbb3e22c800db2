package cfg

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Settings is the resolved runtime configuration shared by the benchmark
// harness and the prediction server.
type Settings struct {
	BundlePath    string
	BundleURL     string
	Classes       int
	TreesPerClass int
	FeatureLen    int
	ScaleFactor   int
	DataPath      string
	OutputPath    string
	MetricsPort   int
	ServerPort    int
	FetchTimeout  time.Duration
}

type ConfigFile struct {
	Model struct {
		BundlePath    string `yaml:"bundlePath"`
		BundleURL     string `yaml:"bundleURL"`
		Classes       int    `yaml:"classes"`
		TreesPerClass int    `yaml:"treesPerClass"`
		FeatureLen    int    `yaml:"featureLen"`
	} `yaml:"model"`

	Bench struct {
		ScaleFactor int    `yaml:"scaleFactor"`
		OutputPath  string `yaml:"outputPath"`
	} `yaml:"bench"`

	System struct {
		DataPath     string `yaml:"dataPath"`
		MetricsPort  int    `yaml:"metricsPort"`
		ServerPort   int    `yaml:"serverPort"`
		FetchTimeout string `yaml:"fetchTimeout"`
	} `yaml:"system"`
}

// Load resolves settings from a YAML file named by CONFIG_FILE, falling back
// to environment variables. A .env file in the working directory is applied
// first when present.
func Load() (Settings, error) {
	_ = godotenv.Load() // optional

	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	fetchTimeout, err := time.ParseDuration(config.System.FetchTimeout)
	if err != nil {
		fetchTimeout = 5 * time.Second
	}

	settings := Settings{
		BundlePath:    getEnvOrDefault("BUNDLE_PATH", config.Model.BundlePath),
		BundleURL:     getEnvOrDefault("BUNDLE_URL", config.Model.BundleURL),
		Classes:       getIntFromEnvOrConfig("CLASSES", config.Model.Classes),
		TreesPerClass: getIntFromEnvOrConfig("TREES_PER_CLASS", config.Model.TreesPerClass),
		FeatureLen:    getIntFromEnvOrConfig("FEATURE_LEN", config.Model.FeatureLen),
		ScaleFactor:   getIntFromEnvOrConfig("SCALE_FACTOR", config.Bench.ScaleFactor),
		DataPath:      getEnvOrDefault("DATA_PATH", config.System.DataPath),
		OutputPath:    getEnvOrDefault("OUTPUT_PATH", config.Bench.OutputPath),
		MetricsPort:   getIntFromEnvOrConfig("METRICS_PORT", config.System.MetricsPort),
		ServerPort:    getIntFromEnvOrConfig("SERVER_PORT", config.System.ServerPort),
		FetchTimeout:  fetchTimeout,
	}
	applyDefaults(&settings)

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		BundlePath:    getEnvOrDefault("BUNDLE_PATH", "model.frst"),
		BundleURL:     os.Getenv("BUNDLE_URL"), // optional
		Classes:       getIntOrDefault("CLASSES", 10),
		TreesPerClass: getIntOrDefault("TREES_PER_CLASS", 10),
		FeatureLen:    getIntOrDefault("FEATURE_LEN", 64),
		ScaleFactor:   getIntOrDefault("SCALE_FACTOR", 1),
		DataPath:      os.Getenv("DATA_PATH"), // optional
		OutputPath:    getEnvOrDefault("OUTPUT_PATH", "results"),
		MetricsPort:   getIntOrDefault("METRICS_PORT", 8080),
		ServerPort:    getIntOrDefault("SERVER_PORT", 8090),
		FetchTimeout:  getDurationOrDefault("FETCH_TIMEOUT", 5*time.Second),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func applyDefaults(s *Settings) {
	if s.Classes == 0 {
		s.Classes = 10
	}
	if s.TreesPerClass == 0 {
		s.TreesPerClass = 10
	}
	if s.FeatureLen == 0 {
		s.FeatureLen = 64
	}
	if s.ScaleFactor == 0 {
		s.ScaleFactor = 1
	}
	if s.OutputPath == "" {
		s.OutputPath = "results"
	}
	if s.MetricsPort == 0 {
		s.MetricsPort = 8080
	}
	if s.ServerPort == 0 {
		s.ServerPort = 8090
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	return configValue
}

// validateSettings performs range validation of configuration values.
func validateSettings(settings *Settings) error {
	if settings.BundlePath == "" && settings.BundleURL == "" {
		return fmt.Errorf("either bundle path or bundle URL must be set")
	}

	if settings.Classes < 1 || settings.Classes > 255 {
		return fmt.Errorf("classes must be between 1 and 255, got %d", settings.Classes)
	}
	// Leaf values are bytes summed into a 16-bit tally.
	if settings.TreesPerClass < 1 || settings.TreesPerClass > 257 {
		return fmt.Errorf("trees per class must be between 1 and 257, got %d", settings.TreesPerClass)
	}
	// Comparison feature indices are single bytes.
	if settings.FeatureLen < 1 || settings.FeatureLen > 256 {
		return fmt.Errorf("feature length must be between 1 and 256, got %d", settings.FeatureLen)
	}
	if settings.ScaleFactor < 1 || settings.ScaleFactor > 1000000 {
		return fmt.Errorf("scale factor must be between 1 and 1000000, got %d", settings.ScaleFactor)
	}
	if settings.MetricsPort < 1024 || settings.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1024 and 65535, got %d", settings.MetricsPort)
	}
	if settings.ServerPort < 1024 || settings.ServerPort > 65535 {
		return fmt.Errorf("server port must be between 1024 and 65535, got %d", settings.ServerPort)
	}
	if settings.FetchTimeout < time.Second || settings.FetchTimeout > time.Minute {
		return fmt.Errorf("fetch timeout must be between 1s and 1m, got %v", settings.FetchTimeout)
	}

	return nil
}
