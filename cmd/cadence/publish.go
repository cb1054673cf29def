package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/cadence/internal/config"
	"github.com/fyrsmithlabs/cadence/internal/eventlog"
	"github.com/fyrsmithlabs/cadence/internal/logging"
	"github.com/fyrsmithlabs/cadence/internal/telemetry"
)

var (
	// publishRecordFile is the payload written by the detached dispatcher
	publishRecordFile string
)

func init() {
	rootCmd.AddCommand(publishCmd)

	publishCmd.Flags().StringVar(&publishRecordFile, "record-file", "", "read the record from this file and delete it")
}

// publishCmd delivers one record to the remote backend
var publishCmd = &cobra.Command{
	Use:    "publish",
	Short:  "Publish one record to the remote backend",
	Hidden: true,
	Long: `Publish a single event log record as an OpenTelemetry span.

The hook starts this command in a detached process. The record is read from
--record-file, which is removed once read, or from stdin. Failures go to the
diagnostic trail.`,
	Args: cobra.NoArgs,
	RunE: runPublish,
}

func runPublish(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// The detached child has no terminal: every failure below goes to the
	// trail, located through the fallback config if the real one is broken.
	cfg, logger, cfgErr := commandLogger()
	if cfgErr != nil {
		fallback, err := config.Fallback()
		if err != nil {
			return cfgErr
		}
		cfg, logger = fallback, logging.Nop()
	}
	defer func() { _ = logger.Sync() }()
	trail := telemetry.NewTrail(cfg.Paths.DiagnosticsFile)

	rec, err := readPublishRecord(cmd)
	if err != nil {
		err = fmt.Errorf("reading record: %w", err)
		trail.Record(ctx, rec, 0, err)
		return err
	}
	if cfgErr != nil {
		trail.Record(ctx, rec, 0, cfgErr)
		return cfgErr
	}

	tcfg, err := telemetry.FromSettings(cfg.Remote, version)
	if err != nil {
		trail.Record(ctx, rec, 0, err)
		return fmt.Errorf("remote config: %w", err)
	}

	err = newPublisher(cfg, tcfg, logger, rec.Repository).Publish(ctx, rec)
	if isDisabled(err) {
		return nil
	}
	return err
}

func readPublishRecord(cmd *cobra.Command) (eventlog.Record, error) {
	if publishRecordFile != "" {
		return telemetry.ReadPayloadFile(publishRecordFile)
	}
	return telemetry.DecodePayload(cmd.InOrStdin())
}

// isDisabled reports errors that mean remote publishing is off.
func isDisabled(err error) bool {
	return errors.Is(err, telemetry.ErrDisabled)
}
