package commands

import (
	"github.com/peterfisher/canvas-parent/lib/serviceutil"
	"github.com/peterfisher/canvas-parent/services/notify"

	"github.com/spf13/cobra"
)

var digestStudent *string

func init() {
	digestStudent = digestCmd.Flags().String("student", "", "Send for a specific student, defaults to the configured one.")
	rootCmd.AddCommand(digestCmd)
}

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Emails a digest of currently missing work.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg := mustLoadConfig()

		store, database := openStore(cfg)
		defer database.Close()

		student := *digestStudent
		if student == "" {
			student = cfg.Student
		}

		err := notify.NewService(store, cfg.Notify).SendMissingWorkDigest(ctx, student)
		if err != nil {
			serviceutil.Fatal("failed to send digest", err)
		}
	},
}
