package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show attendance records",
	Long: `List attendance records, newest first. Students are shown with their
branch and teachers with their designation.

Examples:
  face-attendance history --date today
  face-attendance history --role teacher --limit 20
  face-attendance history --id S001`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().String("id", "", "Only this identity")
	historyCmd.Flags().String("date", "", "Only this date (YYYY-MM-DD or 'today')")
	historyCmd.Flags().String("role", "", "Only this role (student or teacher)")
	historyCmd.Flags().Int("limit", 100, "Maximum number of records (0 for all)")
}

// historyFilter builds the filter from flag values.
func historyFilter(id, date, role string, limit int, now time.Time) (database.AttendanceFilter, error) {
	f := database.AttendanceFilter{IdentityID: strings.TrimSpace(id), Limit: limit}
	if strings.EqualFold(date, "today") {
		date = now.Format(database.DateLayout)
	}
	f.Date = date
	if role != "" {
		r, err := database.ParseRole(role)
		if err != nil {
			return f, err
		}
		f.Role = r
	}
	return f, f.Validate()
}

// formatRecord renders one record as a table row with role-aware affiliation.
func formatRecord(r database.AttendanceRecord) string {
	label, value := "Branch", r.Branch
	if r.Role == database.RoleTeacher {
		label, value = "Designation", r.Designation
	}
	if value == "" {
		value = "-"
	}
	return fmt.Sprintf("%s %s  %-10s %-28s %-8s %s: %s",
		r.Date, r.TimeOfDay, r.IdentityID, r.Name, r.Role.Title(), label, value)
}

func runHistory(cmd *cobra.Command, args []string) error {
	filter, err := historyFilter(
		mustGetString(cmd, "id"),
		mustGetString(cmd, "date"),
		mustGetString(cmd, "role"),
		mustGetInt(cmd, "limit"),
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}

	cfg, log := loadConfig()
	ctx := context.Background()

	a, err := openApp(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.ledger.History(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to query attendance: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No attendance records found")
		return nil
	}

	for _, r := range records {
		fmt.Println(formatRecord(r))
	}
	fmt.Printf("\n%d records\n", len(records))
	return nil
}
