package installer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alexisbeaulieu97/stagehand/internal/config"
	"github.com/alexisbeaulieu97/stagehand/internal/transfer"
	"github.com/alexisbeaulieu97/stagehand/pkg/diff"
)

// Stage names in execution order.
const (
	StagePrepare   = "prepare"
	StageFetch     = "fetch"
	StageExtract   = "extract"
	StageApply     = "apply"
	StageConfigure = "configure"
	StageShortcuts = "register-shortcuts"
	StageFinalize  = "finalize"
)

const (
	// ReceiptFile is written into the destination by the finalize stage.
	ReceiptFile = ".stagehand-receipt.json"
	// InstalledConfigFile is written into the destination by the configure stage.
	InstalledConfigFile = "stagehand.yaml"
	// AddonsDir holds cloned repositories inside the destination.
	AddonsDir = "addons"
)

// goos is swapped in tests.
var goos = runtime.GOOS

// BundleDeps are the collaborators of the built-in stages.
type BundleDeps struct {
	Config   *config.Config
	Transfer *transfer.Client
	Cloner   RepoCloner
	Now      func() time.Time
}

// Receipt records a finished installation.
type Receipt struct {
	RunID        string    `json:"run_id"`
	Profile      string    `json:"profile"`
	Components   []string  `json:"components"`
	Repositories []string  `json:"repositories,omitempty"`
	BundleURL    string    `json:"bundle_url"`
	Checksum     string    `json:"checksum,omitempty"`
	InstalledAt  time.Time `json:"installed_at"`
}

// ReadReceipt loads the receipt of a previous installation in dest.
func ReadReceipt(dest string) (Receipt, error) {
	var receipt Receipt
	data, err := os.ReadFile(filepath.Join(dest, ReceiptFile))
	if err != nil {
		return receipt, err
	}
	err = json.Unmarshal(data, &receipt)
	return receipt, err
}

type installedConfig struct {
	Name         string          `yaml:"name"`
	Profile      string          `yaml:"profile"`
	Destination  string          `yaml:"destination"`
	Bundle       string          `yaml:"bundle"`
	Components   []string        `yaml:"components"`
	Features     map[string]bool `yaml:"features,omitempty"`
	Repositories []string        `yaml:"repositories,omitempty"`
}

// BundleStages returns the standard pipeline: prepare, fetch, extract, apply, configure,
// register-shortcuts and finalize.
func BundleStages(deps BundleDeps) []Stage {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Transfer == nil {
		deps.Transfer = transfer.New(transfer.WithChunkSize(deps.Config.Pipeline.ChunkSize))
	}
	b := bundle{deps: deps, cfg: deps.Config}

	return []Stage{
		{Name: StagePrepare, Phase: StatusChecking, Run: b.prepare},
		{Name: StageFetch, Phase: StatusDownloading, Run: b.fetch},
		{Name: StageExtract, Phase: StatusInstalling, Run: b.extract},
		{Name: StageApply, Phase: StatusInstalling, Run: b.apply},
		{Name: StageConfigure, Phase: StatusInstalling, Run: b.configure},
		{Name: StageShortcuts, Phase: StatusInstalling, Run: b.shortcuts},
		{Name: StageFinalize, Phase: StatusInstalling, Run: b.finalize},
	}
}

type bundle struct {
	deps BundleDeps
	cfg  *config.Config
}

func (b bundle) downloadsDir() string { return filepath.Join(b.cfg.Pipeline.WorkDir, "downloads") }

func (b bundle) artifactPath() string {
	name := "bundle.tar.gz"
	if parsed, err := url.Parse(b.cfg.Bundle.URL); err == nil {
		if base := path.Base(parsed.Path); base != "" && base != "/" && base != "." {
			name = base
		}
	}
	return filepath.Join(b.downloadsDir(), name)
}

func (b bundle) prepare(ctx context.Context, rc *RunContext) error {
	for _, check := range Preflight(b.cfg.Requirements, rc.Profile) {
		switch {
		case check.Passed:
			rc.Log.WithFields(map[string]any{"check": check.Name}).Debug(check.Message)
		case check.Fatal:
			return fmt.Errorf("preflight check %s failed: %s", check.Name, check.Message)
		default:
			rc.Warn("preflight check %s: %s", check.Name, check.Message)
		}
	}

	rc.StagingDir = filepath.Join(b.cfg.Pipeline.WorkDir, "staging", rc.RunID)
	for _, dir := range []string{b.downloadsDir(), rc.StagingDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	if !rc.Profile.Feature(config.FeatureBackup) || !exists(filepath.Join(rc.Profile.Destination, ReceiptFile)) {
		return ctx.Err()
	}

	backupDir := filepath.Join(b.cfg.Pipeline.WorkDir, "backups",
		fmt.Sprintf("%s-%s", rc.Profile.Name, b.deps.Now().UTC().Format("20060102T150405")))
	workDir := filepath.Clean(b.cfg.Pipeline.WorkDir)
	skip := func(p string) bool { return filepath.Clean(p) == workDir }
	if err := copyDirectory(rc.Profile.Destination, backupDir, skip); err != nil {
		return fmt.Errorf("backup previous installation: %w", err)
	}
	rc.Warn("previous installation backed up to %s", backupDir)
	return nil
}

func (b bundle) fetch(ctx context.Context, rc *RunContext) error {
	artifact := b.artifactPath()
	rc.ArtifactPath = artifact

	if b.cfg.Bundle.Checksum != "" {
		ok, err := transfer.MatchesFile(artifact, b.cfg.Bundle.Checksum)
		if err != nil {
			return err
		}
		if ok {
			rc.Log.WithFields(map[string]any{"path": artifact}).Info("bundle already downloaded, skipping transfer")
			return nil
		}
	}

	task := &transfer.Task{
		URL:              b.cfg.Bundle.URL,
		DestinationPath:  artifact,
		ExpectedChecksum: b.cfg.Bundle.Checksum,
	}
	return b.deps.Transfer.Fetch(ctx, task, rc.ReportTransfer)
}

func (b bundle) extract(ctx context.Context, rc *RunContext) error {
	if err := os.RemoveAll(rc.StagingDir); err != nil {
		return err
	}
	components, err := extractArchive(ctx, rc.ArtifactPath, rc.StagingDir)
	if err != nil {
		return fmt.Errorf("extract bundle: %w", err)
	}
	rc.Components = components

	available := make(map[string]struct{}, len(components))
	for _, c := range components {
		available[c] = struct{}{}
	}
	for _, want := range rc.Profile.Components {
		if _, ok := available[want]; !ok {
			return fmt.Errorf("component %q not found in bundle (available: %s)", want, strings.Join(components, ", "))
		}
	}
	return nil
}

func (b bundle) apply(ctx context.Context, rc *RunContext) error {
	dest := rc.Profile.Destination
	for _, component := range rc.Profile.Components {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := moveTree(filepath.Join(rc.StagingDir, component), filepath.Join(dest, component)); err != nil {
			return fmt.Errorf("install component %s: %w", component, err)
		}
		rc.Log.WithFields(map[string]any{"component": component}).Info("component installed")
	}

	if len(rc.Profile.Repositories) == 0 {
		return nil
	}
	if b.deps.Cloner == nil {
		rc.Warn("no repository cloner configured, skipping %d add-ons", len(rc.Profile.Repositories))
		return nil
	}
	for _, repo := range rc.Profile.Repositories {
		target := filepath.Join(dest, AddonsDir, repo.Name)
		if err := b.deps.Cloner.Clone(ctx, repo.URL, repo.Ref, target); err != nil {
			return fmt.Errorf("add-on %s: %w", repo.Name, err)
		}
		rc.Log.WithFields(map[string]any{"addon": repo.Name, "url": repo.URL}).Info("add-on cloned")
	}
	return nil
}

func (b bundle) configure(_ context.Context, rc *RunContext) error {
	doc := installedConfig{
		Name:        b.cfg.Name,
		Profile:     rc.Profile.Name,
		Destination: rc.Profile.Destination,
		Bundle:      b.cfg.Bundle.URL,
		Components:  rc.Profile.Components,
		Features:    rc.Profile.Features,
	}
	for _, repo := range rc.Profile.Repositories {
		doc.Repositories = append(doc.Repositories, repo.Name)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode installed configuration: %w", err)
	}

	target := filepath.Join(rc.Profile.Destination, InstalledConfigFile)
	if previous, err := os.ReadFile(target); err == nil {
		if changes := diff.Lines(previous, data, target+" (previous)", target, 40); changes != "" {
			rc.Warn("installed configuration changed:\n%s", changes)
		}
	}
	return writeFileAtomic(target, data, 0o644)
}

func (b bundle) shortcuts(_ context.Context, rc *RunContext) error {
	if !rc.Profile.Feature(config.FeatureShortcuts) {
		rc.Log.Debug("shortcuts disabled for profile")
		return nil
	}
	if goos != "linux" {
		rc.Warn("desktop shortcuts are not supported on %s", goos)
		return nil
	}

	dir := b.cfg.Bundle.ShortcutDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve shortcut directory: %w", err)
		}
		dir = filepath.Join(home, ".local", "share", "applications")
	}

	dest := rc.Profile.Destination
	entry := strings.Join([]string{
		"[Desktop Entry]",
		"Type=Application",
		fmt.Sprintf("Name=%s (%s)", b.cfg.Name, rc.Profile.Name),
		"Exec=" + filepath.Join(dest, "bin", b.cfg.Name),
		"Path=" + dest,
		"Terminal=false",
		"Categories=Utility;",
		"",
	}, "\n")

	file := filepath.Join(dir, fmt.Sprintf("%s-%s.desktop", b.cfg.Name, rc.Profile.Name))
	if err := writeFileAtomic(file, []byte(entry), 0o644); err != nil {
		return fmt.Errorf("write shortcut: %w", err)
	}
	rc.Log.WithFields(map[string]any{"path": file}).Info("shortcut registered")
	return nil
}

func (b bundle) finalize(_ context.Context, rc *RunContext) error {
	dest := rc.Profile.Destination

	receipt := Receipt{
		RunID:       rc.RunID,
		Profile:     rc.Profile.Name,
		Components:  rc.Profile.Components,
		BundleURL:   b.cfg.Bundle.URL,
		Checksum:    b.cfg.Bundle.Checksum,
		InstalledAt: b.deps.Now().UTC(),
	}
	for _, repo := range rc.Profile.Repositories {
		receipt.Repositories = append(receipt.Repositories, repo.Name)
	}
	data, err := json.MarshalIndent(receipt, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(dest, ReceiptFile), data, 0o644); err != nil {
		return fmt.Errorf("write receipt: %w", err)
	}

	if rc.Profile.Feature(config.FeatureAddToPath) {
		script := fmt.Sprintf("# added by %s\nexport PATH=\"%s:$PATH\"\n", b.cfg.Name, filepath.Join(dest, "bin"))
		if err := writeFileAtomic(filepath.Join(dest, "env.sh"), []byte(script), 0o644); err != nil {
			return fmt.Errorf("write env.sh: %w", err)
		}
		rc.Log.Info("source env.sh to add the installation to PATH")
	}

	if rc.StagingDir != "" {
		if err := os.RemoveAll(rc.StagingDir); err != nil {
			rc.Warn("could not remove staging directory %s: %v", rc.StagingDir, err)
		}
	}
	return nil
}
