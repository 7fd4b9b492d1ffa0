package service

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigEnv names the optional YAML config file.
const ConfigEnv = "REFINERY_CONFIG"

// Config holds worker settings. The YAML file is applied over the defaults
// and the environment over both.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	WorkerToken string `yaml:"worker_token"`

	LogLevel       string `yaml:"log_level"`
	LogDevelopment bool   `yaml:"log_development"`

	// WorkRoot holds one working copy per coordinate plus scratch checkouts.
	WorkRoot string `yaml:"work_root"`
	// TargetRepo receives installed files in repository layout. An http(s)
	// URL deploys there with PUT using RepoUser and RepoPassword.
	TargetRepo string `yaml:"target_repo"`
	// LocalRepo caches resolved files and is handed to build tools.
	LocalRepo    string   `yaml:"local_repo"`
	RemoteRepos  []string `yaml:"remote_repos"`
	RepoUser     string   `yaml:"repo_user"`
	RepoPassword string   `yaml:"repo_password"`

	QueueBackend string `yaml:"queue_backend"`
	RedisURL     string `yaml:"redis_url"`
	RedisKey     string `yaml:"redis_key"`
	KafkaBrokers string `yaml:"kafka_brokers"`
	KafkaTopic   string `yaml:"kafka_topic"`

	ObjectStoreEndpoint string `yaml:"object_store_endpoint"`
	ObjectStoreBucket   string `yaml:"object_store_bucket"`
	ObjectStorePrefix   string `yaml:"object_store_prefix"`
	ObjectStoreAccess   string `yaml:"object_store_access_key"`
	ObjectStoreSecret   string `yaml:"object_store_secret_key"`
	ObjectStoreUseSSL   bool   `yaml:"object_store_use_ssl"`

	// Runner is "exec" or "podman".
	Runner          string   `yaml:"runner"`
	PodmanBin       string   `yaml:"podman_bin"`
	ContainerImage  string   `yaml:"container_image"`
	BuildTimeoutSec int      `yaml:"build_timeout_sec"`
	MavenArgs       []string `yaml:"maven_args"`

	MaxDepth     int      `yaml:"max_depth"`
	BuildPlugins bool     `yaml:"build_plugins"`
	Includes     []string `yaml:"includes"`
	Excludes     []string `yaml:"excludes"`

	Parallelism      int  `yaml:"parallelism"`
	BatchSize        int  `yaml:"batch_size"`
	RequeueOnFailure bool `yaml:"requeue_on_failure"`
	MaxAttempts      int  `yaml:"max_attempts"`
	PollIntervalSec  int  `yaml:"poll_interval_sec"`

	ControlPlaneURL   string `yaml:"control_plane_url"`
	ControlPlaneToken string `yaml:"control_plane_token"`
}

// Defaults returns the built-in settings.
func Defaults() Config {
	return Config{
		HTTPAddr:        ":9000",
		LogLevel:        "info",
		WorkRoot:        "/var/lib/refinery/work",
		TargetRepo:      "/var/lib/refinery/target",
		LocalRepo:       filepath.Join(homeDir(), ".m2", "repository"),
		RemoteRepos:     []string{"https://repo.maven.apache.org/maven2"},
		QueueBackend:    "redis",
		RedisKey:        "refinery:rebuild",
		KafkaTopic:      "refinery.rebuild",
		Runner:          "exec",
		BuildTimeoutSec: 3600,
		Parallelism:     2,
		BatchSize:       10,
		MaxAttempts:     3,
		PollIntervalSec: 5,
	}
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "/root"
}

// LoadConfig reads the file named by REFINERY_CONFIG, if any, then the
// environment.
func LoadConfig() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv(ConfigEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	return cfg, cfg.validate()
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getenv("REFINERY_HTTP_ADDR", c.HTTPAddr)
	c.WorkerToken = getenv("WORKER_TOKEN", c.WorkerToken)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.LogDevelopment = getenvBool("LOG_DEVELOPMENT", c.LogDevelopment)
	c.WorkRoot = getenv("WORK_ROOT", c.WorkRoot)
	c.TargetRepo = getenv("TARGET_REPO", c.TargetRepo)
	c.LocalRepo = getenv("LOCAL_REPO", c.LocalRepo)
	c.RemoteRepos = getenvList("REMOTE_REPOS", c.RemoteRepos)
	c.RepoUser = getenv("REPO_USER", c.RepoUser)
	c.RepoPassword = getenv("REPO_PASSWORD", c.RepoPassword)
	c.QueueBackend = getenv("QUEUE_BACKEND", c.QueueBackend)
	c.RedisURL = getenv("REDIS_URL", c.RedisURL)
	c.RedisKey = getenv("REDIS_KEY", c.RedisKey)
	c.KafkaBrokers = getenv("KAFKA_BROKERS", c.KafkaBrokers)
	c.KafkaTopic = getenv("KAFKA_TOPIC", c.KafkaTopic)
	c.ObjectStoreEndpoint = getenv("OBJECT_STORE_ENDPOINT", c.ObjectStoreEndpoint)
	c.ObjectStoreBucket = getenv("OBJECT_STORE_BUCKET", c.ObjectStoreBucket)
	c.ObjectStorePrefix = getenv("OBJECT_STORE_PREFIX", c.ObjectStorePrefix)
	c.ObjectStoreAccess = getenv("OBJECT_STORE_ACCESS_KEY", c.ObjectStoreAccess)
	c.ObjectStoreSecret = getenv("OBJECT_STORE_SECRET_KEY", c.ObjectStoreSecret)
	c.ObjectStoreUseSSL = getenvBool("OBJECT_STORE_USE_SSL", c.ObjectStoreUseSSL)
	c.Runner = getenv("RUNNER", c.Runner)
	c.PodmanBin = getenv("PODMAN_BIN", c.PodmanBin)
	c.ContainerImage = getenv("CONTAINER_IMAGE", c.ContainerImage)
	c.BuildTimeoutSec = getenvInt("BUILD_TIMEOUT_SEC", c.BuildTimeoutSec)
	c.MavenArgs = parseCmd(getenv("MAVEN_ARGS", strings.Join(c.MavenArgs, " ")))
	c.MaxDepth = getenvInt("MAX_DEPTH", c.MaxDepth)
	c.BuildPlugins = getenvBool("BUILD_PLUGINS", c.BuildPlugins)
	c.Includes = getenvList("INCLUDES", c.Includes)
	c.Excludes = getenvList("EXCLUDES", c.Excludes)
	c.Parallelism = getenvInt("PARALLELISM", c.Parallelism)
	c.BatchSize = getenvInt("BATCH_SIZE", c.BatchSize)
	c.RequeueOnFailure = getenvBool("REQUEUE_ON_FAILURE", c.RequeueOnFailure)
	c.MaxAttempts = getenvInt("MAX_ATTEMPTS", c.MaxAttempts)
	c.PollIntervalSec = getenvInt("POLL_INTERVAL_SEC", c.PollIntervalSec)
	c.ControlPlaneURL = getenv("CONTROL_PLANE_URL", c.ControlPlaneURL)
	c.ControlPlaneToken = getenv("CONTROL_PLANE_TOKEN", c.ControlPlaneToken)
}

func (c Config) validate() error {
	switch c.QueueBackend {
	case "redis", "kafka", "none":
	default:
		return fmt.Errorf("unknown queue backend %q", c.QueueBackend)
	}
	switch c.Runner {
	case "exec", "podman":
	default:
		return fmt.Errorf("unknown runner %q", c.Runner)
	}
	if c.WorkRoot == "" || c.TargetRepo == "" {
		return fmt.Errorf("work root and target repo required")
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getenvBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y":
			return true
		case "0", "false", "no", "n":
			return false
		}
	}
	return def
}

// getenvList splits a comma separated value.
func getenvList(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseCmd(cmd string) []string {
	if cmd == "" {
		return nil
	}
	return strings.Fields(cmd)
}
