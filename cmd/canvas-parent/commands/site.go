package commands

import (
	"github.com/peterfisher/canvas-parent/lib/serviceutil"
	"github.com/peterfisher/canvas-parent/services/site"

	"github.com/spf13/cobra"
)

var sitePublish *bool

func init() {
	sitePublish = siteCmd.Flags().Bool("publish", false, "Upload the generated site over sftp after generation.")
	rootCmd.AddCommand(siteCmd)
}

var siteCmd = &cobra.Command{
	Use:   "site [--publish]",
	Short: "Generates the static dashboard from the stored grades.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg := mustLoadConfig()

		store, database := openStore(cfg)
		defer database.Close()

		service := site.NewService(store, cfg.Site.OutputDir, cfg.Site.BaseUrl)
		err := service.GenerateAll(ctx)
		if err != nil {
			serviceutil.Fatal("failed to generate site", err)
		}

		if *sitePublish {
			err = site.NewPublisher(cfg.Site.Sftp).Upload(ctx, cfg.Site.OutputDir)
			if err != nil {
				serviceutil.Fatal("failed to publish site", err)
			}
		}
	},
}
