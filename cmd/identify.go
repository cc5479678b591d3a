package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <image>",
	Short: "Identify the face in an image",
	Long: `Extract the face from an image file, match it against the enrolled
gallery and print the best match with the closest candidates.
Attendance is not recorded.`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)

	identifyCmd.Flags().Int("top", 0, "Number of candidates to show (default MATCH_CANDIDATES)")
	identifyCmd.Flags().Bool("mark", false, "Also record attendance on a match")
	identifyCmd.Flags().Float64("tolerance", 0, "Match tolerance (overrides MATCH_TOLERANCE)")
}

func runIdentify(cmd *cobra.Command, args []string) error {
	cfg, log := loadConfig()
	ctx := context.Background()

	if tol := mustGetFloat64(cmd, "tolerance"); tol > 0 {
		cfg.Matching.Tolerance = tol
	}

	a, err := openApp(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.gallery.Len() == 0 {
		return fmt.Errorf("no enrolled faces to match against")
	}

	probe, err := embeddingFromImage(ctx, a.extractor, args[0])
	if err != nil {
		return err
	}
	if probe == nil {
		fmt.Println("No face detected")
		return nil
	}

	result := a.matcher.Identify(probe)
	if result.Matched {
		id := result.Entry.Identity
		fmt.Printf("Match: %s (%s, %s) distance %.4f\n", id.Name, id.ID, id.Role.Title(), result.Distance)
	} else {
		fmt.Printf("Unknown face (closest distance %.4f, tolerance %.2f)\n", result.Distance, a.matcher.Tolerance())
	}

	top := mustGetInt(cmd, "top")
	if top <= 0 {
		top = cfg.Matching.Candidates
	}
	fmt.Println("\nCandidates:")
	for i, c := range a.matcher.Rank(probe, top) {
		marker := " "
		if a.matcher.Within(c) {
			marker = "*"
		}
		fmt.Printf("%s %2d. %-30s %-12s %.4f\n", marker, i+1, c.Entry.Identity.Name, c.Entry.Identity.ID, c.Distance)
	}

	if result.Matched && mustGetBool(cmd, "mark") {
		decision, err := a.ledger.TryMark(ctx, result.Entry.Identity, time.Now())
		if err != nil {
			return fmt.Errorf("failed to mark attendance: %w", err)
		}
		if decision.Accepted {
			fmt.Printf("\nAttendance marked at %s\n", decision.Record.TimeOfDay)
		} else {
			fmt.Printf("\nAlready marked, retry in %s\n", decision.RetryAfter.Round(time.Second))
		}
	}
	return nil
}
