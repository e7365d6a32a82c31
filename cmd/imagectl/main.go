package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hussain-mohammed/kirana-store/internal/recipe"
	"github.com/hussain-mohammed/kirana-store/pkg/logger"
)

var buildVersion = "dev"

// errChecksFailed signals a completed run whose findings or properties
// failed; the report has already been printed.
var errChecksFailed = errors.New("checks failed")

type app struct {
	log      *slog.Logger
	logLevel string
	out      io.Writer
}

func main() {
	a := &app{out: os.Stdout}
	if err := newRootCmd(a).Execute(); err != nil {
		if !errors.Is(err, errChecksFailed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "imagectl",
		Short:         "Plan, render, lint and verify container images for the kirana-store ASGI service",
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.out = cmd.OutOrStdout()
			if a.log == nil {
				a.log = logger.NewCLI("imagectl", logger.ParseLevel(a.logLevel))
			}
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(
		newVariantsCmd(a),
		newRenderCmd(a),
		newPrepareCmd(a),
		newLintCmd(a),
		newVerifyCmd(a),
		newInitCmd(a),
		newServeCmd(a),
		newTokenCmd(a),
	)
	return root
}

// recipeFlags selects a recipe by variant name or recipe file.
type recipeFlags struct {
	variant string
	file    string
}

func (f *recipeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.variant, "variant", "slim-script", "built-in recipe variant")
	cmd.Flags().StringVarP(&f.file, "recipe", "f", "", "recipe YAML file (overrides --variant)")
}

func (f *recipeFlags) load() (recipe.Recipe, error) {
	if f.file != "" {
		return recipe.LoadFile(f.file)
	}
	return recipe.LookupVariant(f.variant)
}

// loadManifestFlag parses a requirements file; an empty path yields an empty
// manifest.
func loadManifestFlag(path string) (recipe.DependencyManifest, error) {
	if path == "" {
		return recipe.DependencyManifest{}, nil
	}
	return recipe.LoadManifest(path)
}
