package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/dramline/caskwatch/internal/model"
	"github.com/dramline/caskwatch/internal/store"
)

var (
	alertOwner string
	alertScope string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage alert definitions",
	Long:  "Commands for adding, listing, and removing per-user alert predicates.",
}

var alertsAddCmd = &cobra.Command{
	Use:   "add <origin|region|min_age> <value>",
	Short: "Add an alert",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, ok := model.ParseAlertKind(args[0])
		if !ok {
			return eris.Errorf("unknown alert kind %q (want origin, region, or min_age)", args[0])
		}
		value, err := normalizeAlertValue(kind, args[1])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		created, err := st.CreateAlert(ctx, model.Alert{
			OwnerID: alertOwner,
			ScopeID: alertScope,
			Kind:    kind,
			Value:   value,
		})
		if err != nil {
			if eris.Is(err, store.ErrDuplicateAlert) {
				return eris.Errorf("alert %s=%q already exists for this owner", kind, value)
			}
			return eris.Wrap(err, "alerts add")
		}

		fmt.Printf("Added alert %s: %s=%q\n", created.ID, created.Kind, created.Value)
		return nil
	},
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		var alerts []model.Alert
		if alertOwner != "" {
			alerts, err = st.ListAlertsByOwner(ctx, alertOwner, alertScope)
		} else {
			alerts, err = st.ListAlerts(ctx)
		}
		if err != nil {
			return eris.Wrap(err, "alerts list")
		}

		if len(alerts) == 0 {
			fmt.Fprintln(os.Stderr, "No alerts defined.")
			return nil
		}

		formatAlerts(os.Stdout, alerts)
		return nil
	},
}

var alertsRemoveCmd = &cobra.Command{
	Use:   "remove <origin|region|min_age> <value>",
	Short: "Remove an alert",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, ok := model.ParseAlertKind(args[0])
		if !ok {
			return eris.Errorf("unknown alert kind %q (want origin, region, or min_age)", args[0])
		}
		value, err := normalizeAlertValue(kind, args[1])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if err := st.DeleteAlert(ctx, alertOwner, alertScope, kind, value); err != nil {
			if eris.Is(err, store.ErrAlertNotFound) {
				return eris.Errorf("no alert %s=%q for this owner", kind, value)
			}
			return eris.Wrap(err, "alerts remove")
		}

		fmt.Printf("Removed alert %s=%q\n", kind, value)
		return nil
	},
}

func init() {
	alertsCmd.PersistentFlags().StringVar(&alertOwner, "owner", "", "alert owner (user ID)")
	alertsCmd.PersistentFlags().StringVar(&alertScope, "scope", "", "alert scope (guild/channel ID)")

	_ = alertsAddCmd.MarkFlagRequired("owner")
	_ = alertsRemoveCmd.MarkFlagRequired("owner")

	alertsCmd.AddCommand(alertsAddCmd)
	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsRemoveCmd)
	rootCmd.AddCommand(alertsCmd)
}

var titleCaser = cases.Title(language.English)

// normalizeAlertValue canonicalizes a value before storage. Matching is
// case-insensitive either way; the stored form is what list output and
// notifications show.
func normalizeAlertValue(kind model.AlertKind, raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", eris.New("alert value must not be empty")
	}

	switch kind {
	case model.AlertMinAge:
		n, err := strconv.Atoi(value)
		if err != nil {
			return "", eris.Errorf("min_age value %q is not a number", value)
		}
		if n < 0 {
			return "", eris.Errorf("min_age value must not be negative, got %d", n)
		}
		return strconv.Itoa(n), nil
	case model.AlertOrigin, model.AlertRegion:
		return titleCaser.String(strings.ToLower(value)), nil
	}
	return value, nil
}

// formatAlerts writes a tabular list of alerts to w.
func formatAlerts(out io.Writer, alerts []model.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "OWNER\tSCOPE\tKIND\tVALUE\tCREATED")
	_, _ = fmt.Fprintln(w, "-----\t-----\t----\t-----\t-------")
	for _, a := range alerts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			a.OwnerID, a.ScopeID, a.Kind, a.Value,
			a.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
