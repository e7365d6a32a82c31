package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hussain-mohammed/kirana-store/internal/recipe"
)

func newVariantsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "variants",
		Short: "List the built-in recipe variants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			variants := recipe.Variants()
			if asJSON {
				names := make([]map[string]any, 0, len(variants))
				for _, v := range variants {
					v = v.WithDefaults()
					names = append(names, map[string]any{
						"name":        v.Name,
						"base":        v.Base.Reference(),
						"mode":        v.Entrypoint.Mode(),
						"system_deps": v.SystemDeps,
						"command":     v.Entrypoint.Command(),
					})
				}
				return writeJSON(a, names)
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tBASE\tMODE\tSYSTEM DEPS\tDESCRIPTION")
			for _, v := range variants {
				v = v.WithDefaults()
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.Name, v.Base.Reference(), v.Entrypoint.Mode(), v.SystemDeps, v.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newRenderCmd(a *app) *cobra.Command {
	var (
		rf           recipeFlags
		requirements string
		outDir       string
		showPlan     bool
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a recipe into a Dockerfile and start script",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rf.load()
			if err != nil {
				return err
			}
			manifest, err := loadManifestFlag(requirements)
			if err != nil {
				return err
			}
			plan, err := recipe.Plan(r, manifest)
			if err != nil {
				return err
			}
			if showPlan {
				for _, stage := range plan.Stages() {
					fmt.Fprintf(a.out, "# %s\n", stage)
					for _, step := range plan.StepsFor(stage) {
						fmt.Fprintf(a.out, "  %s\n", step)
					}
				}
				return nil
			}
			if outDir == "" {
				fmt.Fprint(a.out, recipe.RenderDockerfile(plan))
				return nil
			}
			written, err := recipe.WriteArtifacts(outDir, plan)
			if err != nil {
				return err
			}
			a.log.Info("artifacts written", "recipe", plan.Recipe.Name, "files", written)
			return nil
		},
	}
	rf.register(cmd)
	cmd.Flags().StringVarP(&requirements, "requirements", "r", "", "requirements file used to decide system packages")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "write Dockerfile (and start.sh) into this directory")
	cmd.Flags().BoolVar(&showPlan, "plan", false, "print the staged plan instead of the Dockerfile")
	return cmd
}

func newPrepareCmd(a *app) *cobra.Command {
	var rf recipeFlags
	cmd := &cobra.Command{
		Use:   "prepare DIR",
		Short: "Generate Dockerfile and start script in a build context unless it has its own",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rf.load()
			if err != nil {
				return err
			}
			prep, err := recipe.Ensure(args[0], r)
			if err != nil {
				return err
			}
			if !prep.DockerfileGenerated {
				a.log.Info("existing Dockerfile kept", "dir", args[0])
			}
			return writeJSON(a, prep)
		},
	}
	rf.register(cmd)
	return cmd
}

func newInitCmd(a *app) *cobra.Command {
	var (
		variant string
		name    string
		output  string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a recipe YAML file seeded from a variant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := recipe.LookupVariant(variant)
			if err != nil {
				return err
			}
			if strings.TrimSpace(name) != "" {
				r.Name = name
			}
			content, err := recipe.EncodeFile(r)
			if err != nil {
				return err
			}
			if output == "-" {
				_, err := a.out.Write(content)
				return err
			}
			if _, err := os.Stat(output); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", output)
			}
			if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
				return fmt.Errorf("create recipe dir: %w", err)
			}
			if err := os.WriteFile(output, content, 0o644); err != nil {
				return fmt.Errorf("write recipe: %w", err)
			}
			a.log.Info("recipe written", "path", output, "variant", variant)
			return nil
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "slim-script", "variant to start from")
	cmd.Flags().StringVar(&name, "name", "", "recipe name (defaults to the variant name)")
	cmd.Flags().StringVarP(&output, "out", "o", "imagectl.yaml", "output path, - for stdout")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func writeJSON(a *app, v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
