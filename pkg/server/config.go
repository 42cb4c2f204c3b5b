package server

import (
	"time"

	"github.com/spf13/viper"

	"github.com/codemode-ai/codemode/pkg/storage"
)

// Config is the session service configuration, read from CODEMODE_*
// environment variables. Inside a container these are injected by the
// host-side executor; standalone deployments set them directly.
type Config struct {
	Host string
	Port int

	// Redis connection; when unset the file paths below are used.
	RedisURL        string
	ToolsPrefix     string
	SkillsPrefix    string
	ArtifactsPrefix string
	DepsPrefix      string

	// File storage paths.
	ToolsPath     string
	SkillsPath    string
	ArtifactsPath string
	DepsPath      string

	// AuthToken is the bearer token clients must present. AuthDisabled
	// turns authentication off entirely.
	AuthToken    string
	AuthDisabled bool

	// RuntimeDeps allows agent code to call deps.add / deps.remove.
	RuntimeDeps bool

	// SessionTTL is how long an idle session keeps its interpreter.
	SessionTTL time.Duration

	// InstallCommand is the package manager invoked for dependency
	// endpoints; empty disables real installation.
	InstallCommand string
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() Config {
	v := viper.New()
	v.SetEnvPrefix("CODEMODE")
	v.AutomaticEnv()

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("tools_path", "/data/tools")
	v.SetDefault("skills_path", "/data/skills")
	v.SetDefault("artifacts_path", "/data/artifacts")
	v.SetDefault("deps_path", "/data/deps")
	v.SetDefault("tools_prefix", "codemode:tools")
	v.SetDefault("skills_prefix", "codemode:skills")
	v.SetDefault("artifacts_prefix", "codemode:artifacts")
	v.SetDefault("deps_prefix", "codemode:deps")
	v.SetDefault("runtime_deps", true)
	v.SetDefault("session_ttl", 3600)

	return Config{
		Host:            v.GetString("host"),
		Port:            v.GetInt("port"),
		RedisURL:        v.GetString("redis_url"),
		ToolsPrefix:     v.GetString("tools_prefix"),
		SkillsPrefix:    v.GetString("skills_prefix"),
		ArtifactsPrefix: v.GetString("artifacts_prefix"),
		DepsPrefix:      v.GetString("deps_prefix"),
		ToolsPath:       v.GetString("tools_path"),
		SkillsPath:      v.GetString("skills_path"),
		ArtifactsPath:   v.GetString("artifacts_path"),
		DepsPath:        v.GetString("deps_path"),
		AuthToken:       v.GetString("container_auth_token"),
		AuthDisabled:    v.GetBool("container_auth_disabled"),
		RuntimeDeps:     v.GetBool("runtime_deps"),
		SessionTTL:      time.Duration(v.GetInt("session_ttl")) * time.Second,
		InstallCommand:  v.GetString("install_command"),
	}
}

// backendAccess translates the configuration into a storage access
// descriptor.
func (c Config) backendAccess() storage.Access {
	if c.RedisURL != "" {
		return storage.Access{
			Type: storage.AccessTypeRedis,
			Redis: &storage.RedisAccess{
				URL:             c.RedisURL,
				ToolsPrefix:     c.ToolsPrefix,
				SkillsPrefix:    c.SkillsPrefix,
				ArtifactsPrefix: c.ArtifactsPrefix,
				DepsPrefix:      c.DepsPrefix,
			},
		}
	}
	return storage.Access{
		Type: storage.AccessTypeFile,
		File: &storage.FileAccess{
			ToolsPath:     c.ToolsPath,
			SkillsPath:    c.SkillsPath,
			ArtifactsPath: c.ArtifactsPath,
			DepsPath:      c.DepsPath,
		},
	}
}
