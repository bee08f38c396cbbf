package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/davidlao2k/m18-protocol/internal/catalog"
	"github.com/davidlao2k/m18-protocol/internal/report"
)

func newCatalogCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Browse and maintain the register catalog",
		Long: `The catalog maps register ids to pack addresses, lengths and decode
types, and battery type codes to models. A custom catalog can be given
with --catalog or catalog.path in the config file.`,
	}
	cmd.AddCommand(newCatalogListCmd(g))
	cmd.AddCommand(newCatalogShowCmd(g))
	cmd.AddCommand(newCatalogValidateCmd())
	cmd.AddCommand(newCatalogExportCmd(g))
	return cmd
}

// openCatalog returns the catalog selected by flags and config.
func openCatalog(g *globalFlags) (*catalog.Catalog, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return cat, nil
}

func newCatalogListCmd(g *globalFlags) *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registers",
		Example: `  m18 catalog list
  m18 catalog list --search temperature`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := openCatalog(g)
			if err != nil {
				return err
			}
			return report.WriteCatalog(cmd.OutOrStdout(), cat.Search(search))
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "Only registers whose key, label, type or address contains this")
	return cmd
}

func newCatalogShowCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|key|batteries>",
		Short: "Show one register, or the battery model table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := openCatalog(g)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if args[0] == "batteries" {
				fmt.Fprintf(out, "%-6s %-8s %s\n", "CODE", "AH", "MODEL")
				for _, b := range cat.Batteries() {
					fmt.Fprintf(out, "%-6s %-8.1f %s\n", b.Code, b.CapacityAh, b.Model)
				}
				return nil
			}
			ids, err := cat.ParseSelection(args[0])
			if err != nil {
				return err
			}
			descs, err := cat.Select(ids)
			if err != nil {
				return err
			}
			for _, d := range descs {
				fmt.Fprintf(out, "id:      %d\nkey:     %s\nlabel:   %s\naddress: %s\nlength:  %d\ntype:    %s\n",
					d.ID, d.Key, d.Label, d.Address, d.Length, d.Type)
				if d.Scale != 0 {
					fmt.Fprintf(out, "scale:   %g\n", d.Scale)
				}
				if d.Bucket != "" {
					fmt.Fprintf(out, "bucket:  %s\n", d.Bucket)
				}
			}
			return nil
		},
	}
}

func newCatalogValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a catalog file for errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := catalog.LoadAndValidate(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d registers, %d battery models OK\n",
				args[0], len(file.Registers), len(file.Batteries))
			return nil
		},
	}
}

func newCatalogExportCmd(g *globalFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the catalog as YAML, as a starting point for a custom one",
		Example: `  m18 catalog export --output my-catalog.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				if g.catalogPath == "" {
					_, err := cmd.OutOrStdout().Write(catalog.Embedded())
					return err
				}
				data, err := os.ReadFile(g.catalogPath)
				if err != nil {
					return fmt.Errorf("read catalog file: %w", err)
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			cat, err := openCatalog(g)
			if err != nil {
				return err
			}
			if err := catalog.Save(output, cat.File()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d registers to %s\n", cat.Len(), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (default: stdout)")
	return cmd
}
