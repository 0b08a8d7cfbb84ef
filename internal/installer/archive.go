package installer

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// extractArchive unpacks a .tar.gz, .tgz, .tar or .zip bundle into dst and returns the
// top-level directory names it contained. Every write goes through an os.Root on dst, so
// entries cannot leave it even through symlinks created by earlier entries.
func extractArchive(ctx context.Context, archivePath, dst string) ([]string, error) {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(dst)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	lower := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		err = extractZip(ctx, archivePath, root)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		err = extractTar(ctx, archivePath, root, true)
	case strings.HasSuffix(lower, ".tar"):
		err = extractTar(ctx, archivePath, root, false)
	default:
		return nil, fmt.Errorf("unsupported bundle format: %s", filepath.Base(archivePath))
	}
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dst)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// entryName cleans an archive entry name into a path relative to the extraction root.
func entryName(name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return cleaned, nil
}

func extractTar(ctx context.Context, archivePath string, root *os.Root, gzipped bool) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		name, err := entryName(hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := mkdirAll(root, name, hdr.Name); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(root, name, hdr.Name, tr, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if _, err := entryName(filepath.Join(filepath.Dir(name), hdr.Linkname)); err != nil || filepath.IsAbs(hdr.Linkname) {
				return fmt.Errorf("archive symlink %q escapes destination", hdr.Name)
			}
			if err := mkdirAll(root, filepath.Dir(name), hdr.Name); err != nil {
				return err
			}
			if err := root.Symlink(hdr.Linkname, name); err != nil {
				return fmt.Errorf("archive symlink %q: %w", hdr.Name, err)
			}
		default:
			// devices, fifos and hard links are not part of bundles
		}
	}
}

func extractZip(ctx context.Context, archivePath string, root *os.Root) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	for _, file := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		name, err := entryName(file.Name)
		if err != nil {
			return err
		}
		if file.FileInfo().IsDir() {
			if err := mkdirAll(root, name, file.Name); err != nil {
				return err
			}
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return err
		}
		err = writeEntry(root, name, file.Name, rc, file.Mode().Perm())
		_ = rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func mkdirAll(root *os.Root, name, entry string) error {
	if name == "." {
		return nil
	}
	if err := root.MkdirAll(name, 0o755); err != nil {
		return fmt.Errorf("archive entry %q: %w", entry, err)
	}
	return nil
}

func writeEntry(root *os.Root, name, entry string, r io.Reader, mode os.FileMode) error {
	if mode == 0 {
		mode = 0o644
	}
	if err := mkdirAll(root, filepath.Dir(name), entry); err != nil {
		return err
	}
	out, err := root.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("archive entry %q: %w", entry, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
