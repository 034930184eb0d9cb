package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dayplan/internal/model"
)

var (
	exportOwner string
	exportOut   string
	exportFrom  string
	exportTo    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write an owner's planned instances as an ICS calendar",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportOwner, "owner", "", "Owner to export")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default: stdout)")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "First day, YYYY-MM-DD (default: today)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Last day, YYYY-MM-DD (default: end of horizon)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportOwner == "" {
		return errors.New("--owner is required")
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	body, err := a.planner.Calendar(ctx, exportOwner, model.DayKey(exportFrom), model.DayKey(exportTo))
	if err != nil {
		return err
	}
	if exportOut == "" {
		_, err := fmt.Fprint(os.Stdout, body)
		return err
	}
	if err := os.WriteFile(exportOut, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", exportOut, err)
	}
	a.logger.Info().Str("owner_id", exportOwner).Str("out", exportOut).Msg("calendar exported")
	return nil
}
