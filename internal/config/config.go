package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type EngineConfig struct {
	Host        string `yaml:"host"`
	TLSVerify   bool   `yaml:"tls_verify"`
	CertPath    string `yaml:"cert_path"`
	HelperImage string `yaml:"helper_image"`
}

type Config struct {
	Listen             string       `yaml:"listen"`
	PullPolicy         string       `yaml:"pull_policy"`
	SessionTTLSeconds  int          `yaml:"session_ttl_seconds"`
	HeartbeatSeconds   int          `yaml:"heartbeat_seconds"`
	WaitTimeoutSeconds int          `yaml:"wait_timeout_seconds"`
	Engine             EngineConfig `yaml:"engine"`
}

func Load(yamlPath string) (*Config, error) {
	cfg := &Config{
		Listen:             "0.0.0.0:8000",
		PullPolicy:         "missing",
		SessionTTLSeconds:  3600,
		HeartbeatSeconds:   30,
		WaitTimeoutSeconds: 300,
		Engine: EngineConfig{
			HelperImage: "busybox:stable",
		},
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ONEOFF_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("ONEOFF_PULL_POLICY"); v != "" {
		cfg.PullPolicy = v
	}
	if v := os.Getenv("ONEOFF_SESSION_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionTTLSeconds = n
		}
	}
	if v := os.Getenv("ONEOFF_HEARTBEAT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HeartbeatSeconds = n
		}
	}
	if v := os.Getenv("ONEOFF_WAIT_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WaitTimeoutSeconds = n
		}
	}
	if v := os.Getenv("ONEOFF_HELPER_IMAGE"); v != "" {
		cfg.Engine.HelperImage = v
	}
	// Standard Docker client variables apply when the yaml leaves the
	// engine section empty.
	if v := os.Getenv("DOCKER_HOST"); v != "" && cfg.Engine.Host == "" {
		cfg.Engine.Host = v
	}
	if os.Getenv("DOCKER_TLS_VERIFY") == "1" {
		cfg.Engine.TLSVerify = true
	}
	if v := os.Getenv("DOCKER_CERT_PATH"); v != "" && cfg.Engine.CertPath == "" {
		cfg.Engine.CertPath = v
	}
}
