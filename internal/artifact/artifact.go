// Package artifact persists research reports as browsable files on disk:
// one directory per job holding report.md plus a metadata.json sidecar.
// The database stays authoritative for job state; this tree exists for
// humans and for feeding context into later jobs.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"scout/internal/logging"
	"scout/internal/types"
)

// Store writes and resolves report directories under a root.
type Store struct {
	root string
}

// NewStore creates the artifact store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create reports directory: %w", err)
	}
	return &Store{root: dir}, nil
}

// Root returns the reports directory.
func (s *Store) Root() string { return s.root }

const (
	reportFile   = "report.md"
	metadataFile = "metadata.json"
	slugMaxLen   = 40
)

// Slugify turns a prompt into a filesystem-safe slug of at most 40
// characters, cut at a word boundary when possible.
func Slugify(text string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() > 2*slugMaxLen {
			break
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "untitled"
	}
	if len(slug) > slugMaxLen {
		// Cut at a word boundary when one falls in the back half.
		if cut := strings.LastIndexByte(slug[:slugMaxLen+1], '-'); cut > slugMaxLen/2 {
			slug = slug[:cut]
		} else {
			slug = slug[:slugMaxLen]
		}
	}
	return slug
}

// DirName builds the report directory name for a job:
// YYYY-MM-DD_HHMM_<slug>_<shortid>.
func DirName(job *types.Job, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s", at.UTC().Format("2006-01-02_1504"), Slugify(job.Prompt), job.ShortID())
}

// Save writes the artifact and its metadata sidecar, returning the report
// directory. A failed write cleans up after itself so a half-written
// report never looks complete.
func (s *Store) Save(job *types.Job, artifact *types.Artifact, cost decimal.Decimal) (string, error) {
	timer := logging.StartTimer(logging.CategoryArtifact, "Save")
	defer timer.Stop()

	now := time.Now().UTC()
	dir := filepath.Join(s.root, DirName(job, now))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	body := renderReport(artifact)
	if err := s.writeAll(dir, job, artifact, body, cost, now); err != nil {
		os.RemoveAll(dir)
		return "", err
	}

	logging.Artifact("saved report for job %s at %s (%d bytes)", job.ShortID(), dir, len(body))
	return dir, nil
}

func (s *Store) writeAll(dir string, job *types.Job, artifact *types.Artifact, body string, cost decimal.Decimal, now time.Time) error {
	if err := os.WriteFile(filepath.Join(dir, reportFile), []byte(body), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	meta := Metadata{
		JobID:         job.ID,
		CreatedAt:     now,
		Filename:      reportFile,
		ContentType:   "text/markdown",
		SizeBytes:     int64(len(body)),
		Prompt:        job.Prompt,
		Model:         job.ChosenModel,
		Provider:      job.ChosenProvider,
		Status:        string(types.StatusCompleted),
		ProviderJobID: job.ExternalID,
		Cost:          cost,
		TokensUsed:    artifact.TokenUsage.Total(),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// renderReport appends a sources section when the provider returned
// citations that are not already inline.
func renderReport(artifact *types.Artifact) string {
	body := artifact.MarkdownBody
	if len(artifact.Citations) == 0 {
		return body
	}

	var b strings.Builder
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString("\n## Sources\n\n")
	for i, c := range artifact.Citations {
		title := c.Title
		if title == "" {
			title = c.URL
		}
		fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, title, c.URL)
	}
	return b.String()
}

// Resolve finds the report directory for a job id or short id. It matches
// the current naming scheme on the trailing short id and falls back to
// legacy directories named by the bare job id.
func (s *Store) Resolve(jobID string) (string, error) {
	short := (&types.Job{ID: jobID}).ShortID()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return "", err
	}

	var matches []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, "_"+short) || name == jobID || name == short {
			matches = append(matches, name)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no report found for job %s", short)
	case 1:
		return filepath.Join(s.root, matches[0]), nil
	default:
		sort.Strings(matches)
		// Same short id twice should not happen; prefer the newest.
		return filepath.Join(s.root, matches[len(matches)-1]), nil
	}
}

// Load reads the report body and metadata for a job.
func (s *Store) Load(jobID string) (string, *Metadata, error) {
	dir, err := s.Resolve(jobID)
	if err != nil {
		return "", nil, err
	}

	meta, err := s.loadMetadata(dir)
	if err != nil {
		return "", nil, err
	}

	name := meta.Filename
	if name == "" {
		name = reportFile
	}
	body, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read report: %w", err)
	}
	return string(body), meta, nil
}

func (s *Store) loadMetadata(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if os.IsNotExist(err) {
		// Legacy directories predate the sidecar.
		return &Metadata{Filename: reportFile}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("corrupt metadata in %s: %w", dir, err)
	}
	return &meta, nil
}

// UpdateMetadata applies fn to the sidecar and writes it back, preserving
// unknown fields.
func (s *Store) UpdateMetadata(jobID string, fn func(*Metadata)) error {
	dir, err := s.Resolve(jobID)
	if err != nil {
		return err
	}
	meta, err := s.loadMetadata(dir)
	if err != nil {
		return err
	}
	fn(meta)
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, metadataFile), data, 0644)
}

// List returns report directory names, newest first by the date prefix.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != campaignsDir {
			out = append(out, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}
