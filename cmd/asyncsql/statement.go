package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/asyncsql/client"
)

func execCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "exec <sql> [params...]",
		Short: "Execute a statement that does not return rows",
		Long:  "Execute a statement. Params are typed literals: null, int:1, float:1.5, bool:true, str:x or a bare string",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			c, closeFn, err := openClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := client.Await(ctx, func(cb func(*client.UpdateResult, error)) {
				c.UpdateWithParams(ctx, args[0], params, cb)
			})
			if err != nil {
				return err
			}

			fmt.Printf("Updated: %d\n", res.Updated)
			if len(res.Keys) > 0 {
				fmt.Printf("Keys:    %s\n", formatValues(res.Keys))
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 30*time.Second, "Time to wait for the result")
	return cmd
}

func queryCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "query <sql> [params...]",
		Short: "Run a query and print its rows",
		Long:  "Run a query. Params are typed literals: null, int:1, float:1.5, bool:true, str:x or a bare string",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			c, closeFn, err := openClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			rs, err := client.Await(ctx, func(cb func(*client.ResultSet, error)) {
				c.QueryWithParams(ctx, args[0], params, cb)
			})
			if err != nil {
				return err
			}

			printResultSet(os.Stdout, rs)
			return nil
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 30*time.Second, "Time to wait for the result")
	return cmd
}

func printResultSet(out io.Writer, rs *client.ResultSet) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(rs.Columns, "\t"))
	for _, row := range rs.Results {
		fmt.Fprintln(w, strings.Join(formatRow(row), "\t"))
	}
	w.Flush()
	fmt.Fprintf(out, "(%d rows)\n", rs.NumRows())
}

func formatRow(row []any) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = formatValue(v)
	}
	return out
}

func formatValues(vs []any) string {
	return strings.Join(formatRow(vs), ", ")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return fmt.Sprintf("\\x%x", x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}
