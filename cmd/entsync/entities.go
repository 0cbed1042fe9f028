package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/entsync/internal/api"
	"github.com/hyperengineering/entsync/internal/plugin"
)

var entitiesJSONOutput bool

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "List registered entity collections",
	Args:  cobra.NoArgs,
	RunE:  runEntities,
}

func init() {
	entitiesCmd.Flags().BoolVar(&entitiesJSONOutput, "json", false, "Output in JSON format")
}

func runEntities(cmd *cobra.Command, args []string) error {
	plugin.Reset()
	initPlugins()

	entities := api.DescribeEntities()

	if entitiesJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{"entities": entities})
	}

	tw := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(tw, "NAME\tTABLE\tPRIMARY KEY\tAUTO ID\tSEARCHABLE")
	for _, e := range entities {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n",
			e.Name, e.Table, strings.Join(e.PrimaryKey, ","), e.AutoID, strings.Join(e.Searchable, ","))
	}
	return tw.Flush()
}
