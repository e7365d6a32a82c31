package config

import "time"

// ServiceConfig holds runtime configuration for the imagectl service.
type ServiceConfig struct {
	Environment     string
	Addr            string
	DockerHost      string
	Workdir         string
	GitTimeout      time.Duration
	BuildTimeout    time.Duration
	ProbeTimeout    time.Duration
	Registry        string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	ReportTTL       time.Duration
	CallbackURL     string
	CallbackToken   string
	CallbackTimeout time.Duration
	AuthSecret      string
	LogBuffer       int
	LogRetention    time.Duration
}

// LoadServiceConfig constructs a ServiceConfig from environment variables.
func LoadServiceConfig() ServiceConfig {
	return ServiceConfig{
		Environment:     GetString("APP_ENV", "development"),
		Addr:            GetString("IMAGECTL_ADDR", ":5000"),
		DockerHost:      GetString("DOCKER_HOST", "unix:///var/run/docker.sock"),
		Workdir:         GetString("IMAGECTL_WORKDIR", "/tmp/imagectl"),
		GitTimeout:      GetDuration("GIT_TIMEOUT", 60*time.Second),
		BuildTimeout:    GetDuration("BUILD_TIMEOUT", 10*time.Minute),
		ProbeTimeout:    GetDuration("PROBE_TIMEOUT", 60*time.Second),
		Registry:        GetString("IMAGE_REGISTRY", "kirana"),
		RedisAddr:       GetString("REDIS_ADDR", ""),
		RedisPassword:   GetString("REDIS_PASSWORD", ""),
		RedisDB:         GetInt("REDIS_DB", 0),
		ReportTTL:       GetDuration("REPORT_TTL", 24*time.Hour),
		CallbackURL:     GetString("BAKE_CALLBACK_URL", ""),
		CallbackToken:   GetString("BAKE_CALLBACK_TOKEN", ""),
		CallbackTimeout: GetDuration("BAKE_CALLBACK_TIMEOUT", 10*time.Second),
		AuthSecret:      GetString("IMAGECTL_JWT_SECRET", ""),
		LogBuffer:       GetInt("WS_LOG_BUFFER", 100),
		LogRetention:    GetDuration("WS_LOG_RETENTION", 5*time.Minute),
	}
}
