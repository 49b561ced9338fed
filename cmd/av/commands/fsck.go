package commands

import (
	"fmt"

	"assetvault/pkg/fsck"

	"github.com/spf13/cobra"
)

var (
	fsckRepair bool
	fsckDeep   bool
	fsckMinAge = fsck.DefaultMinAge
)

var fsckCmd = &cobra.Command{
	Use:   "fsck",
	Short: "Check that rows and stored content agree",
	Long: `Report rows whose content is missing (dangling) and content that no row
references (orphans). Orphans are left behind when a process dies between
writing content and recording its row; --repair deletes them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		checker := AV.Checker(fsck.Options{MinAge: fsckMinAge, Deep: fsckDeep})
		report, err := checker.Check(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "backend %s: %d rows, %d stored objects\n", report.Backend, report.Rows, report.Contents)
		for _, d := range report.Dangling {
			fmt.Fprintf(out, "dangling %s %s: %s\n", d.ID, d.Location, d.Reason)
		}
		for _, o := range report.Orphans {
			fmt.Fprintf(out, "orphan %s (%d bytes)\n", o.Location, o.Size)
		}

		if fsckRepair && len(report.Orphans) > 0 {
			if err := checker.Repair(cmd.Context(), report); err != nil {
				return err
			}
			fmt.Fprintf(out, "removed %d orphans\n", report.Removed)
		}
		if report.Clean() {
			fmt.Fprintln(out, "ok")
			return nil
		}
		if len(report.Dangling) > 0 {
			return fmt.Errorf("%d dangling rows", len(report.Dangling))
		}
		return nil
	},
}

func init() {
	fsckCmd.Flags().BoolVar(&fsckRepair, "repair", false, "delete orphaned content")
	fsckCmd.Flags().BoolVar(&fsckDeep, "deep", false, "load and verify every payload")
	fsckCmd.Flags().DurationVar(&fsckMinAge, "min-age", fsck.DefaultMinAge, "ignore content younger than this")
	rootCmd.AddCommand(fsckCmd)
}
