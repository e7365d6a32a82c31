package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hussain-mohammed/kirana-store/internal/lint"
)

func newLintCmd(a *app) *cobra.Command {
	var (
		requirements string
		manifestName string
		defaultPort  int
		asJSON       bool
		strict       bool
	)
	cmd := &cobra.Command{
		Use:   "lint [DOCKERFILE]",
		Short: "Check a Dockerfile's layering, system packages and entrypoint",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "Dockerfile"
			if len(args) == 1 {
				path = args[0]
			}
			opts := lint.Options{ManifestName: manifestName, DefaultPort: defaultPort}
			if requirements != "" {
				manifest, err := loadManifestFlag(requirements)
				if err != nil {
					return err
				}
				opts.Manifest = &manifest
			}
			var (
				report lint.Report
				err    error
			)
			if path == "-" {
				report, err = lint.Lint(os.Stdin, opts)
			} else {
				report, err = lint.LintFile(path, opts)
			}
			if err != nil {
				return err
			}
			if asJSON {
				if err := writeJSON(a, report); err != nil {
					return err
				}
			} else {
				for _, f := range report.Findings {
					fmt.Fprintf(a.out, "%s:%s\n", path, f)
				}
				fmt.Fprintf(a.out, "%d errors, %d warnings, %d info\n",
					report.Count(lint.SeverityError), report.Count(lint.SeverityWarning), report.Count(lint.SeverityInfo))
			}
			if report.HasErrors() || (strict && report.Count(lint.SeverityWarning) > 0) {
				return errChecksFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&requirements, "requirements", "r", "", "requirements file; enables the native driver package check")
	cmd.Flags().StringVar(&manifestName, "manifest-name", "", "dependency manifest name referenced by pip (default requirements.txt)")
	cmd.Flags().IntVar(&defaultPort, "port", 0, "port a scripted entrypoint binds without PORT (default 8000)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as failures")
	return cmd
}
