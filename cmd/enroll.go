package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/enrollment"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll a student or teacher",
	Long: `Enroll a person with a face taken from an image file (through the face
extractor) or from a JSON file holding a 128-value embedding.
Enrolling an existing ID replaces the stored details and face.

Examples:
  face-attendance enroll --id S001 --name "Alice" --role student --branch CSE --image alice.jpg
  face-attendance enroll --id T001 --name "Bob" --role teacher --designation HOD --embedding bob.json`,
	Args: cobra.NoArgs,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("id", "", "Identity ID (roll number or staff ID)")
	enrollCmd.Flags().String("name", "", "Full name")
	enrollCmd.Flags().String("role", "", "Role: student or teacher")
	enrollCmd.Flags().String("branch", "", "Branch (students)")
	enrollCmd.Flags().String("designation", "", "Designation (teachers)")
	enrollCmd.Flags().String("image", "", "Image file containing the face")
	enrollCmd.Flags().String("embedding", "", "JSON file with a precomputed embedding")
}

// readEmbeddingFile reads a JSON array of floats.
func readEmbeddingFile(path string) (embedding.Embedding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding file: %w", err)
	}
	var e []float32
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to parse embedding file %s: %w", path, err)
	}
	return e, nil
}

// embeddingFromImage runs the extractor on an image file. A nil embedding
// means no face was found.
func embeddingFromImage(ctx context.Context, ext extractor.Extractor, path string) (embedding.Embedding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	e, ok, err := ext.ExtractEmbedding(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("face extraction failed for %s: %w", path, err)
	}
	if !ok {
		return nil, nil
	}
	return e, nil
}

// printOutcome writes an enrollment outcome for the CLI.
func printOutcome(o enrollment.Outcome) {
	if !o.Enrolled() {
		msg := string(o.Reason)
		if o.Field != "" {
			msg += " (" + o.Field + ")"
		}
		if o.Detail != "" {
			msg += ": " + o.Detail
		}
		fmt.Printf("Rejected: %s\n", msg)
		return
	}

	verb := "Enrolled"
	if o.Updated {
		verb = "Updated"
	}
	fmt.Printf("%s %s %s (%s)\n", verb, o.Identity.Role.Title(), o.Identity.Name, o.Identity.ID)
	for _, c := range o.Similar {
		fmt.Printf("  Warning: face is %.3f from %s (%s)\n", c.Distance, c.Entry.Identity.Name, c.Entry.Identity.ID)
	}
}

func runEnroll(cmd *cobra.Command, args []string) error {
	imagePath := mustGetString(cmd, "image")
	embeddingPath := mustGetString(cmd, "embedding")
	if (imagePath == "") == (embeddingPath == "") {
		return errors.New("exactly one of --image or --embedding is required")
	}

	fields := enrollment.Fields{
		ID:          mustGetString(cmd, "id"),
		Name:        mustGetString(cmd, "name"),
		Role:        mustGetString(cmd, "role"),
		Branch:      mustGetString(cmd, "branch"),
		Designation: mustGetString(cmd, "designation"),
	}

	cfg, log := loadConfig()
	ctx := context.Background()

	a, err := openApp(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer a.Close()

	var e embedding.Embedding
	if embeddingPath != "" {
		e, err = readEmbeddingFile(embeddingPath)
	} else {
		e, err = embeddingFromImage(ctx, a.extractor, imagePath)
	}
	if err != nil {
		return err
	}

	outcome, err := a.enrollment.Enroll(ctx, fields, e)
	if err != nil {
		return fmt.Errorf("enrollment failed: %w", err)
	}
	printOutcome(outcome)
	if !outcome.Enrolled() {
		return errors.New("enrollment rejected")
	}
	return nil
}
