package supervisor

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"yarals/internal/paths"
)

// maxBundleBytes caps the total extracted size of one bundle.
const maxBundleBytes int64 = 4 << 30

// IsBundle reports whether name has a supported bundle extension.
func IsBundle(name string) bool {
	_, ok := bundleCodec(name)
	return ok
}

func bundleCodec(name string) (string, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return "zstd", true
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return "gzip", true
	default:
		return "", false
	}
}

// ExtractBundle unpacks a compressed tar archive into targetDir. Entries that
// would land outside targetDir, hard links and symlinks pointing outside it
// are rejected, including paths that only escape once earlier links are
// followed.
func ExtractBundle(bundlePath, targetDir string) error {
	codec, ok := bundleCodec(bundlePath)
	if !ok {
		return fmt.Errorf("unsupported bundle format: %s", filepath.Base(bundlePath))
	}

	f, err := os.Open(bundlePath)
	if err != nil {
		return fmt.Errorf("failed to open bundle: %w", err)
	}
	defer f.Close()

	var r io.Reader
	switch codec {
	case "zstd":
		dec, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to open zstd stream: %w", err)
		}
		defer dec.Close()
		r = dec
	default:
		zr, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return err
	}
	realTarget, err := filepath.EvalSymlinks(targetDir)
	if err != nil {
		return err
	}
	return extractTar(tar.NewReader(r), targetDir, realTarget)
}

// extractTar checks every entry lexically against targetDir and on disk
// against realTarget, the symlink-free form of targetDir.
func extractTar(tr *tar.Reader, targetDir, realTarget string) error {
	var written int64
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("corrupt bundle: %w", err)
		}

		dest := filepath.Join(targetDir, filepath.FromSlash(hdr.Name))
		if !paths.IsWithin(dest, targetDir) {
			return fmt.Errorf("bundle entry %q escapes the target directory", hdr.Name)
		}
		if err := checkAncestors(dest, targetDir, realTarget); err != nil {
			return fmt.Errorf("bundle entry %q: %w", hdr.Name, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0755); err != nil {
				return err
			}

		case tar.TypeReg:
			if written+hdr.Size > maxBundleBytes {
				return fmt.Errorf("bundle exceeds max size of %d bytes", maxBundleBytes)
			}
			if err := writeEntry(dest, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
			written += hdr.Size

		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) ||
				!paths.IsWithin(filepath.Join(filepath.Dir(dest), hdr.Linkname), targetDir) {
				return fmt.Errorf("bundle symlink %q -> %q escapes the target directory", hdr.Name, hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, dest); err != nil {
				return err
			}
			// links may chain through earlier links; judge the resolved path
			if resolved, err := filepath.EvalSymlinks(dest); err == nil && !paths.IsWithin(resolved, realTarget) {
				_ = os.Remove(dest)
				return fmt.Errorf("bundle symlink %q -> %q resolves outside the target directory", hdr.Name, hdr.Linkname)
			}

		case tar.TypeLink:
			return fmt.Errorf("bundle entry %q is a hard link", hdr.Name)

		default:
			// devices, fifos and pax metadata have no place in an environment
		}
	}
}

// checkAncestors walks the directories between targetDir and dest and
// rejects any that is a symlink resolving outside realTarget. Components that
// do not exist yet will be created as plain directories.
func checkAncestors(dest, targetDir, realTarget string) error {
	rel, err := filepath.Rel(targetDir, filepath.Dir(dest))
	if err != nil || rel == "." {
		return err
	}

	cur := targetDir
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		resolved, err := filepath.EvalSymlinks(cur)
		if err != nil {
			return fmt.Errorf("cannot resolve %s: %w", cur, err)
		}
		if !paths.IsWithin(resolved, realTarget) {
			return fmt.Errorf("parent %s resolves outside the target directory", cur)
		}
	}
	return nil
}

func writeEntry(dest string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	if info, err := os.Lstat(dest); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("refusing to write through symlink %s", dest)
	}
	if perm == 0 {
		perm = 0644
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return out.Close()
}
