package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	lsOffset int
	lsLimit  int
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List items",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := AV.Items.List(cmd.Context(), lsOffset, lsLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tFILENAME\tBACKEND\tSIZE\tCREATED")
		for _, item := range page.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				item.ID, item.Name, item.Filename, item.Backend, item.Size, item.CreatedAt.Format(time.DateTime))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if shown := int64(page.Offset + len(page.Items)); shown < page.Total {
			fmt.Fprintf(cmd.OutOrStdout(), "(%d of %d, use --offset %d for more)\n", len(page.Items), page.Total, shown)
		}
		return nil
	},
}

func init() {
	lsCmd.Flags().IntVar(&lsOffset, "offset", 0, "skip this many items")
	lsCmd.Flags().IntVar(&lsLimit, "limit", 50, "page size")
	rootCmd.AddCommand(lsCmd)
}
