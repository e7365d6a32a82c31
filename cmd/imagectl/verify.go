package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hussain-mohammed/kirana-store/internal/docker"
	"github.com/hussain-mohammed/kirana-store/internal/recipe"
	"github.com/hussain-mohammed/kirana-store/internal/verify"
	"github.com/hussain-mohammed/kirana-store/internal/workspace"
	"github.com/hussain-mohammed/kirana-store/pkg/config"
)

func newVerifyCmd(a *app) *cobra.Command {
	var (
		rf         recipeFlags
		properties []string
		tag        string
		keepImage  bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "verify DIR",
		Short: "Build the context and check cache reuse, script mode, port binding and system packages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadServiceConfig()
			r, err := rf.load()
			if err != nil {
				return err
			}
			props, err := parseProperties(properties)
			if err != nil {
				return err
			}
			dir, cleanup, err := stageContext(cfg.Workdir, args[0], time.Now())
			if err != nil {
				return err
			}
			defer func() {
				if err := cleanup(); err != nil {
					a.log.Warn("failed to remove verify context", "dir", dir, "error", err)
				}
			}()
			if _, err := recipe.Ensure(dir, r); err != nil {
				return err
			}
			manifest := recipe.DependencyManifest{}
			manifestPath := filepath.Join(dir, r.WithDefaults().Manifest)
			if _, err := os.Stat(manifestPath); err == nil {
				if manifest, err = recipe.LoadManifest(manifestPath); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, cfg.BuildTimeout)
			defer cancel()

			dockerClient, err := docker.New(cfg.DockerHost)
			if err != nil {
				return err
			}
			defer dockerClient.Close()
			if err := dockerClient.Ping(ctx); err != nil {
				return err
			}

			suite := verify.NewSuite(dockerClient, a.log,
				verify.WithProbeTimeout(cfg.ProbeTimeout),
				verify.WithBuildOutput(func(line string) { a.log.Debug("docker build output", "line", line) }),
			)
			report, err := suite.Run(ctx, verify.Request{
				Dir:        dir,
				Recipe:     r,
				Manifest:   manifest,
				Tag:        tag,
				Properties: props,
				KeepImage:  keepImage,
			})
			if err != nil {
				return err
			}
			if asJSON {
				if err := writeJSON(a, report); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(a.out, "%s (%s)\n", report.Recipe, report.Mode)
				for _, res := range report.Results {
					fmt.Fprintf(a.out, "  %-18s %-4s %s\n", res.Property, res.Status, res.Detail)
				}
			}
			if !report.Passed() {
				return errChecksFailed
			}
			return nil
		},
	}
	rf.register(cmd)
	cmd.Flags().StringSliceVarP(&properties, "property", "p", nil, "properties to check (default all)")
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "image tag (default imagectl-verify/<recipe>:latest)")
	cmd.Flags().BoolVar(&keepImage, "keep-image", false, "leave the built image in the daemon")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

// stageContext copies src into a fresh directory under root. Ensure and the
// cache check write into the copy, never into src.
func stageContext(root, src string, now time.Time) (string, func() error, error) {
	ws, err := workspace.New(root)
	if err != nil {
		return "", nil, err
	}
	dir, err := ws.Prepare(fmt.Sprintf("verify-%d", now.UnixNano()))
	if err != nil {
		return "", nil, err
	}
	if err := workspace.CopyTree(src, dir); err != nil {
		_ = ws.Cleanup(dir)
		return "", nil, fmt.Errorf("copy %s: %w", src, err)
	}
	return dir, func() error { return ws.Cleanup(dir) }, nil
}

func parseProperties(values []string) ([]verify.Property, error) {
	known := map[verify.Property]bool{}
	for _, p := range verify.AllProperties {
		known[p] = true
	}
	out := make([]verify.Property, 0, len(values))
	for _, v := range values {
		p := verify.Property(v)
		if !known[p] {
			return nil, fmt.Errorf("unknown property %q", v)
		}
		out = append(out, p)
	}
	return out, nil
}
