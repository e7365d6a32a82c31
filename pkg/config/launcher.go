package config

import "time"

// LauncherConfig drives the container boot sequence.
type LauncherConfig struct {
	DefaultPort      int
	Host             string
	Interpreter      string
	Server           string
	AppModule        string
	AppObject        string
	EnvFile          string
	DatabaseURL      string
	WaitForDatabase  bool
	DatabaseTimeout  time.Duration
	MigrationsDir    string
	MigrationTimeout time.Duration
	LogLevel         string
}

// LoadLauncherConfig constructs a LauncherConfig from environment variables.
// PORT itself is resolved at launch time, not here.
func LoadLauncherConfig() LauncherConfig {
	return LauncherConfig{
		DefaultPort:      GetInt("BOOT_DEFAULT_PORT", 8000),
		Host:             GetString("BOOT_HOST", "0.0.0.0"),
		Interpreter:      GetString("BOOT_PYTHON", "python"),
		Server:           GetString("BOOT_SERVER", "uvicorn"),
		AppModule:        GetString("BOOT_APP_MODULE", "main"),
		AppObject:        GetString("BOOT_APP_OBJECT", "app"),
		EnvFile:          GetString("BOOT_ENV_FILE", ".env"),
		DatabaseURL:      GetString("DATABASE_URL", ""),
		WaitForDatabase:  GetBool("BOOT_WAIT_FOR_DB", true),
		DatabaseTimeout:  GetDuration("BOOT_DB_TIMEOUT", 30*time.Second),
		MigrationsDir:    GetString("BOOT_MIGRATIONS_DIR", ""),
		MigrationTimeout: GetDuration("BOOT_MIGRATION_TIMEOUT", time.Minute),
		LogLevel:         GetString("LOG_LEVEL", "info"),
	}
}
