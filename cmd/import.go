package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/enrollment"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var importCmd = &cobra.Command{
	Use:   "import <manifest.yaml>",
	Short: "Bulk enroll identities from a YAML manifest",
	Long: `Enroll every identity listed in a YAML manifest. Each entry carries the
identity fields and either an image path (relative to the manifest) or an
inline embedding.

  identities:
    - id: S001
      name: Alice
      role: student
      branch: CSE
      image: photos/s001.jpg
    - id: T001
      name: Bob
      role: teacher
      designation: HOD
      embedding: [0.01, -0.02, ...]`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().Int("concurrency", 4, "Number of parallel enrollments")
	importCmd.Flags().Bool("dry-run", false, "Validate the manifest without writing anything")
}

// manifestEntry is one identity in an import manifest.
type manifestEntry struct {
	enrollment.Fields `yaml:",inline"`
	Image             string    `yaml:"image"`
	Embedding         []float32 `yaml:"embedding"`
}

type manifest struct {
	Identities []manifestEntry `yaml:"identities"`
}

// readManifest parses a manifest and resolves image paths against its directory.
func readManifest(path string) ([]manifestEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	seen := make(map[string]int, len(m.Identities))
	for i := range m.Identities {
		e := &m.Identities[i]
		if e.Image != "" && len(e.Embedding) > 0 {
			return nil, fmt.Errorf("entry %d (%s): image and embedding are mutually exclusive", i+1, e.ID)
		}
		if e.Image != "" && !filepath.IsAbs(e.Image) {
			e.Image = filepath.Join(dir, e.Image)
		}
		// Later entries would silently overwrite earlier ones.
		if prev, dup := seen[e.ID]; dup && e.ID != "" {
			return nil, fmt.Errorf("entry %d: duplicate id %s (first at entry %d)", i+1, e.ID, prev+1)
		}
		seen[e.ID] = i
	}
	return m.Identities, nil
}

// importResult tallies an import run.
type importResult struct {
	mu       sync.Mutex
	enrolled int
	updated  int
	rejected []string
	failed   []string
}

func (r *importResult) add(id string, o enrollment.Outcome, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case err != nil:
		r.failed = append(r.failed, fmt.Sprintf("%s: %v", id, err))
	case !o.Enrolled():
		r.rejected = append(r.rejected, fmt.Sprintf("%s: %s %s", id, o.Reason, o.Field))
	case o.Updated:
		r.updated++
	default:
		r.enrolled++
	}
}

// enrollEntry resolves the entry's face and enrolls it.
func enrollEntry(ctx context.Context, svc *enrollment.Service, ext extractor.Extractor, e manifestEntry) (enrollment.Outcome, error) {
	var emb embedding.Embedding = e.Embedding
	if e.Image != "" {
		var err error
		if emb, err = embeddingFromImage(ctx, ext, e.Image); err != nil {
			return enrollment.Outcome{}, err
		}
	}
	return svc.Enroll(ctx, e.Fields, emb)
}

// importEntries enrolls entries with bounded concurrency. Individual failures
// are collected, not fatal; only context cancellation stops the run.
func importEntries(ctx context.Context, svc *enrollment.Service, ext extractor.Extractor,
	entries []manifestEntry, concurrency int, bar *progressbar.ProgressBar,
) (*importResult, error) {
	result := &importResult{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, concurrency))

	for _, e := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcome, err := enrollEntry(gctx, svc, ext, e)
			result.add(e.ID, outcome, err)
			if bar != nil {
				_ = bar.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	entries, err := readManifest(args[0])
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("Manifest has no identities")
		return nil
	}
	fmt.Printf("Manifest: %d identities\n", len(entries))

	if mustGetBool(cmd, "dry-run") {
		for _, e := range entries {
			if e.Image != "" {
				if _, err := os.Stat(e.Image); err != nil {
					fmt.Printf("  %s: %v\n", e.ID, err)
				}
			}
		}
		fmt.Println("Dry run, nothing written")
		return nil
	}

	cfg, log := loadConfig()
	ctx := context.Background()

	a, err := openApp(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer a.Close()

	bar := progressbar.NewOptions(len(entries),
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("identities"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	result, err := importEntries(ctx, a.enrollment, a.extractor, entries, mustGetInt(cmd, "concurrency"), bar)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("import interrupted: %w", err)
	}

	fmt.Printf("Enrolled: %d, updated: %d, rejected: %d, failed: %d\n",
		result.enrolled, result.updated, len(result.rejected), len(result.failed))
	for _, r := range result.rejected {
		fmt.Printf("  rejected %s\n", r)
	}
	for _, f := range result.failed {
		fmt.Printf("  failed %s\n", f)
	}
	if len(result.failed) > 0 {
		return errors.New("some identities could not be stored")
	}
	return nil
}
