package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"rank-alerts/internal/storage"
)

// Alerts prints recent alerts for a project.
func (a *App) Alerts(ctx context.Context, opts AlertsOptions) error {
	if opts.ProjectID == "" {
		return errors.New("--project is required")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot list alerts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	alerts, err := store.ListAlerts(ctx, opts.ProjectID, storage.ListAlertsOptions{
		UnreadOnly: opts.UnreadOnly,
		Limit:      opts.Limit,
	})
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tKeyword\tType\tSeverity\tRead\tMessage")

	for _, alert := range alerts {
		read := ""
		if alert.Read {
			read = "yes"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.Keyword,
			alert.Type,
			alert.Severity,
			read,
			sanitizeInline(alert.Message),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
