package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"schedule-import-db/internal/excel"
	"schedule-import-db/internal/importer"
)

func newTemplateCmd() *cobra.Command {
	var entity, out string

	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write an empty workbook with the entity's headers",
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, ok := importer.Lookup(entity)
			if !ok {
				return withCode(exitUsage, fmt.Errorf("unknown entity %q", entity))
			}
			if out == "" {
				out = rules.Entity + "_template.xlsx"
			}

			data, err := excel.Template(rules)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("failed to write template: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Template written to %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&entity, "entity", "e", "", "Entity type (required)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output path (default <entity>_template.xlsx)")
	_ = cmd.MarkFlagRequired("entity")

	return cmd
}

func newEntitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List importable entities and their columns",
		Run: func(cmd *cobra.Command, args []string) {
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Entity", "Label", "Primary key", "Required"})
			table.SetAutoWrapText(false)

			for _, name := range importer.Entities() {
				rules, _ := importer.Lookup(name)
				table.Append([]string{
					rules.Entity,
					rules.Label,
					rules.PrimaryKey,
					strings.Join(rules.Required(), ", "),
				})
			}
			table.Render()
		},
	}
}
