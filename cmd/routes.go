package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/hashicorp/go-multierror"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/conneroisu/convey/internal/config"
	"github.com/conneroisu/convey/internal/convention"
	"github.com/conneroisu/convey/internal/routes"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Show the compiled route table",
	Long: `Compile the routes file and print the table in match order. Entries
that fail to compile are listed after the table and skipped at runtime.

Examples:
  convey routes
  convey routes --output json`,
	RunE: runRoutes,
}

func init() {
	rootCmd.AddCommand(routesCmd)
	addOutputFlags(routesCmd)
}

const fromPath = "(from path)"

type routeRow struct {
	Route      string `json:"route"`
	Verb       string `json:"verb"`
	Controller string `json:"controller"`
	Action     string `json:"action"`
	Module     string `json:"module,omitempty"`
}

func runRoutes(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	entries, err := routes.Load(cfg.Resolve(cfg.Paths.Routes))
	if err != nil {
		return err
	}
	table, compileErr := routes.Compile(entries)

	rows := make([]routeRow, 0, table.Len())
	for _, e := range table.Entries() {
		controllerName := fromPath
		if e.Controller != "" {
			controllerName = convention.ControllerName(e.Controller)
		}
		rows = append(rows, routeRow{
			Route:      e.Pattern,
			Verb:       e.Verb,
			Controller: controllerName,
			Action:     convention.ActionName(e.Action),
			Module:     e.Module,
		})
	}

	out := cmd.OutOrStdout()
	format, _ := cmd.Flags().GetString("output")
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			return err
		}
	case "table":
		if len(rows) == 0 {
			fmt.Fprintf(out, "No routes in %s; every request is dispatched by convention.\n", cfg.Resolve(cfg.Paths.Routes))
			break
		}
		tw := tablewriter.NewWriter(out)
		tw.SetHeader([]string{"#", "Route", "Verb", "Controller", "Action", "Module"})
		tw.SetAutoWrapText(false)
		for i, r := range rows {
			tw.Append([]string{strconv.Itoa(i + 1), r.Route, r.Verb, r.Controller, r.Action, r.Module})
		}
		tw.Render()
	default:
		return fmt.Errorf("unsupported format: %s (supported: table, json)", format)
	}

	if compileErr != nil {
		red := color.New(color.FgRed).SprintFunc()
		if merr, ok := compileErr.(*multierror.Error); ok {
			for _, e := range merr.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", red("skipped:"), e)
			}
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", red("skipped:"), compileErr)
		}
	}
	return nil
}
