package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/hussain-mohammed/kirana-store/pkg/config"
)

// ExecFunc replaces the current process image.
type ExecFunc func(argv0 string, argv []string, envv []string) error

// Launcher boots the ASGI server the way a scripted entrypoint does: resolve
// the port, prepare the environment, then hand the process over.
type Launcher struct {
	cfg      config.LauncherConfig
	log      *slog.Logger
	lookup   LookupFunc
	setenv   SetFunc
	environ  func() []string
	lookPath func(string) (string, error)
	exec     ExecFunc
	waitDB   func(ctx context.Context, dsn string) error
	migrate  func(ctx context.Context, dsn string) error
}

// Option customises a Launcher.
type Option func(*Launcher)

// WithExec overrides the process replacement call.
func WithExec(fn ExecFunc) Option {
	return func(l *Launcher) { l.exec = fn }
}

// WithEnv overrides environment access.
func WithEnv(lookup LookupFunc, set SetFunc, environ func() []string) Option {
	return func(l *Launcher) {
		l.lookup = lookup
		l.setenv = set
		l.environ = environ
	}
}

// WithLookPath overrides executable resolution.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(l *Launcher) { l.lookPath = fn }
}

// WithDatabase overrides the database wait and migration steps.
func WithDatabase(wait, migrate func(ctx context.Context, dsn string) error) Option {
	return func(l *Launcher) {
		l.waitDB = wait
		l.migrate = migrate
	}
}

// New constructs a Launcher backed by the real process environment.
func New(cfg config.LauncherConfig, log *slog.Logger, opts ...Option) *Launcher {
	if log == nil {
		log = slog.Default()
	}
	l := &Launcher{
		cfg:      cfg,
		log:      log,
		lookup:   os.LookupEnv,
		setenv:   os.Setenv,
		environ:  os.Environ,
		lookPath: exec.LookPath,
		exec:     syscall.Exec,
	}
	l.waitDB = func(ctx context.Context, dsn string) error {
		return WaitForDatabase(ctx, dsn, l.cfg.DatabaseTimeout, l.log)
	}
	l.migrate = func(ctx context.Context, dsn string) error {
		migrator, err := NewMigrator(dsn, l.cfg.MigrationsDir, l.cfg.MigrationTimeout, l.log)
		if err != nil {
			return err
		}
		return migrator.Up(ctx)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Plan is the resolved server invocation.
type Plan struct {
	Port int
	Argv []string
}

// Prepare loads the env file and resolves the server command without
// starting it.
func (l *Launcher) Prepare() (Plan, error) {
	applied, err := LoadDotEnv(l.cfg.EnvFile, l.lookup, l.setenv)
	if err != nil {
		return Plan{}, err
	}
	if len(applied) > 0 {
		l.log.Info("loaded env file", "path", l.cfg.EnvFile, "keys", applied)
	}
	port, err := ResolvePort(l.lookup, l.cfg.DefaultPort)
	if err != nil {
		return Plan{}, err
	}
	argv := []string{
		l.cfg.Interpreter, "-m", l.cfg.Server,
		l.cfg.AppModule + ":" + l.cfg.AppObject,
		"--host", l.cfg.Host,
		"--port", strconv.Itoa(port),
	}
	return Plan{Port: port, Argv: argv}, nil
}

// Run prepares the database and replaces the process with the server. It
// only returns on failure; exec errors are not retried.
func (l *Launcher) Run(ctx context.Context) error {
	plan, err := l.Prepare()
	if err != nil {
		return err
	}
	if err := l.prepareDatabase(ctx); err != nil {
		return err
	}
	binary, err := l.lookPath(plan.Argv[0])
	if err != nil {
		return fmt.Errorf("resolve %s: %w", plan.Argv[0], err)
	}
	l.log.Info("starting server", "port", plan.Port, "command", plan.Argv)
	if err := l.exec(binary, plan.Argv, l.environ()); err != nil {
		if errors.Is(err, syscall.EACCES) {
			return fmt.Errorf("exec %s: permission denied: %w", binary, err)
		}
		return fmt.Errorf("exec %s: %w", binary, err)
	}
	return nil
}

func (l *Launcher) prepareDatabase(ctx context.Context) error {
	dsn, _ := l.lookup("DATABASE_URL")
	if dsn == "" {
		dsn = l.cfg.DatabaseURL
	}
	if dsn == "" {
		l.log.Warn("DATABASE_URL not set; the application falls back to its own default database")
		return nil
	}
	l.log.Info("database configured", "target", DatabaseTarget(dsn))
	if l.cfg.WaitForDatabase {
		if err := l.waitDB(ctx, dsn); err != nil {
			return err
		}
	}
	if l.cfg.MigrationsDir != "" {
		if err := l.migrate(ctx, dsn); err != nil {
			return err
		}
	}
	return nil
}
