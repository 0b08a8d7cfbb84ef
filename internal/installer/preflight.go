package installer

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/alexisbeaulieu97/stagehand/internal/config"
)

// CheckResult is the outcome of one preflight check.
type CheckResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Fatal   bool   `json:"fatal"`
	Message string `json:"message"`
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// Preflight verifies the machine can receive the profile. It never modifies anything except
// creating the destination directory for the writability probe.
func Preflight(req config.RequirementsConfig, profile config.Profile) []CheckResult {
	results := []CheckResult{checkWritable(profile.Destination)}

	needMB := max(req.MinDiskSpaceMB, profile.DiskSpaceMB)
	results = append(results, checkDiskSpace(profile.Destination, needMB))
	return append(results, commandChecks(req)...)
}

// SystemChecks reports whether the host can run installations at all, without a profile.
func SystemChecks(req config.RequirementsConfig, workDir string) []CheckResult {
	results := []CheckResult{checkWritable(workDir), checkDiskSpace(workDir, req.MinDiskSpaceMB)}
	return append(results, commandChecks(req)...)
}

func commandChecks(req config.RequirementsConfig) []CheckResult {
	var results []CheckResult
	for _, name := range req.RequiredCommands {
		results = append(results, checkCommand(name, true))
	}
	for _, name := range req.OptionalCommands {
		results = append(results, checkCommand(name, false))
	}
	return results
}

func checkWritable(dest string) CheckResult {
	result := CheckResult{Name: "permissions", Fatal: true}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		result.Message = fmt.Sprintf("cannot create %s: %v", dest, err)
		return result
	}
	probe, err := os.CreateTemp(dest, ".stagehand-probe-*")
	if err != nil {
		result.Message = fmt.Sprintf("%s is not writable: %v", dest, err)
		return result
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())

	result.Passed = true
	result.Message = fmt.Sprintf("%s is writable", dest)
	return result
}

func checkDiskSpace(dest string, needMB uint64) CheckResult {
	result := CheckResult{Name: "disk_space", Fatal: true}
	if needMB == 0 {
		result.Passed = true
		result.Message = "no disk space requirement"
		return result
	}

	freeMB, supported, err := freeSpaceMB(nearestExisting(dest))
	switch {
	case !supported:
		result.Passed = true
		result.Fatal = false
		result.Message = "disk space check not supported on this platform"
	case err != nil:
		result.Message = fmt.Sprintf("cannot determine free space: %v", err)
	case freeMB < needMB:
		result.Message = fmt.Sprintf("insufficient disk space: %d MB available, %d MB required", freeMB, needMB)
	default:
		result.Passed = true
		result.Message = fmt.Sprintf("%d MB available, %d MB required", freeMB, needMB)
	}
	return result
}

func checkCommand(name string, required bool) CheckResult {
	result := CheckResult{Name: "command:" + name, Fatal: required}
	path, err := lookPath(name)
	if err != nil {
		result.Message = fmt.Sprintf("%s not found in PATH", name)
		return result
	}
	result.Passed = true
	result.Message = path
	return result
}

func nearestExisting(path string) string {
	for p := filepath.Clean(path); ; p = filepath.Dir(p) {
		if exists(p) || p == filepath.Dir(p) {
			return p
		}
	}
}
