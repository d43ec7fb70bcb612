package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facelocker/pkg/logging"
	"github.com/MrCodeEU/facelocker/pkg/notify"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Deliver queued unauthorized-access alerts by email",
	Long: `Runs the alert queue worker. Verifications configured with notify.mode "queue"
enqueue alerts; the worker sends them through Resend (RESEND_API_KEY).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Notify.From == "" {
			return errors.New("notify.from must be set to send alert emails")
		}
		mailer, err := notify.NewResendMailer(cfg.Notify.From, cfg.Notify.Subject)
		if err != nil {
			return err
		}

		srv, mux := notify.NewWorker(cfg, mailer)
		logging.WithField("queue", cfg.Notify.Queue).Info("Alert worker starting")
		return srv.Run(mux)
	},
}
