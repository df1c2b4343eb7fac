package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"examscore/logging"
	"examscore/ml"
	"examscore/pipeline"
)

// Config 应用配置
type Config struct {
	Http struct {
		Port         int   `yaml:"port"`
		TimeoutSec   int   `yaml:"timeout_sec"`
		MaxBodyBytes int64 `yaml:"max_body_bytes"`
	} `yaml:"http"`
	Log      logging.Config `yaml:"log"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Artifacts struct {
		Dir          string `yaml:"dir"`
		Preprocessor string `yaml:"preprocessor"`
		Model        string `yaml:"model"`
	} `yaml:"artifacts"`
	Ingestion pipeline.IngestionConfig `yaml:"ingestion"`
	Training  struct {
		ml.TrainerConfig `yaml:",inline"`
		HandleUnknown    ml.UnknownPolicy `yaml:"handle_unknown"`
	} `yaml:"training"`
	Serving struct {
		Cache     bool `yaml:"cache"`
		CacheSize int  `yaml:"cache_size"`
		Watch     bool `yaml:"watch"`
	} `yaml:"serving"`
	Schema ml.Schema `yaml:"schema"`
}

func Default() *Config {
	var c Config
	c.Http.Port = 8080
	c.Http.TimeoutSec = 30
	c.Http.MaxBodyBytes = 1 << 20
	c.Log.Level = "info"
	c.Database.Path = "examscore.db"
	c.Artifacts.Dir = "artifacts"
	c.Artifacts.Preprocessor = pipeline.DefaultPreprocessorFile
	c.Artifacts.Model = pipeline.DefaultModelFile
	c.Ingestion.SourcePath = filepath.Join("notebook", "data", "stud.csv")
	c.Ingestion.TestRatio = pipeline.DefaultTestRatio
	c.Ingestion.Seed = pipeline.DefaultSplitSeed
	c.Training.MaxTreeDepth = 6
	c.Training.MinSamplesLeaf = 5
	c.Training.RidgeAlpha = 1
	c.Training.MinScore = ml.DefaultMinScore
	c.Training.HandleUnknown = ml.UnknownIgnore
	c.Serving.Cache = false
	c.Serving.CacheSize = 8
	c.Schema = ml.StudentSchema()
	return &c
}

// Load reads an optional .env, then the YAML file at path over Default(),
// then the EXAMSCORE_* environment overrides. A missing file is not an
// error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	config := Default()
	if path != "" {
		file, err := os.Open(path)
		switch {
		case err == nil:
			defer file.Close()
			if err := yaml.NewDecoder(file).Decode(config); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, err
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("EXAMSCORE_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EXAMSCORE_HTTP_PORT: %w", err)
		}
		c.Http.Port = port
	}
	if v := os.Getenv("EXAMSCORE_ARTIFACT_DIR"); v != "" {
		c.Artifacts.Dir = v
	}
	if v := os.Getenv("EXAMSCORE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("EXAMSCORE_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		return fmt.Errorf("invalid http port %d", c.Http.Port)
	}
	if c.Artifacts.Dir == "" {
		return errors.New("artifacts.dir is required")
	}
	if c.Ingestion.TestRatio <= 0 || c.Ingestion.TestRatio >= 1 {
		return fmt.Errorf("ingestion.test_ratio %v must be in (0, 1)", c.Ingestion.TestRatio)
	}
	switch c.Training.HandleUnknown {
	case "", ml.UnknownIgnore, ml.UnknownError:
	default:
		return fmt.Errorf("unknown training.handle_unknown %q", c.Training.HandleUnknown)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return c.Schema.Validate()
}

func (c *Config) PreprocessorPath() string {
	return filepath.Join(c.Artifacts.Dir, c.Artifacts.Preprocessor)
}

func (c *Config) ModelPath() string {
	return filepath.Join(c.Artifacts.Dir, c.Artifacts.Model)
}
