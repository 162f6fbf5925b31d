package archive

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// LedgerSuffixes are the two-character suffixes of ledger state files that are
// imported from an archive.
var LedgerSuffixes = []string{"cb", "cs", "gs", "xn"}

// WalletSuffix is the suffix of wallet key files imported from an archive.
const WalletSuffix = "wif"

// ArchiveSuffix is stripped from an archive's file name to name its root
// directory.
const ArchiveSuffix = ".tar.gz"

// ErrExtractionDirNotEmpty is returned when a directory created while
// extracting still contains files after every imported file was moved out of
// it.
var ErrExtractionDirNotEmpty = errors.New("extraction directory not empty")

// Selected reports whether an archive entry is imported.
func Selected(name string) bool {
	if len(name) >= 2 {
		ext := name[len(name)-2:]
		for _, s := range LedgerSuffixes {
			if ext == s {
				return true
			}
		}
	}
	return strings.HasSuffix(name, WalletSuffix)
}

// BaseName returns the name of the root directory of an archive written to
// archivePath.
func BaseName(archivePath string) string {
	return strings.TrimSuffix(filepath.Base(archivePath), ArchiveSuffix)
}

// Import extracts the selected entries of the archive into workDir, flattened
// to their base names. Existing files with the same name are overwritten.
// Directories created by the extraction are removed before returning.
func Import(archivePath, workDir string, logger *logrus.Entry) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "reading %s", archivePath)
	}
	defer gz.Close()

	created := make(map[string]struct{})

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "reading %s", archivePath)
		}

		if !hdr.FileInfo().Mode().IsRegular() || !Selected(hdr.Name) {
			continue
		}

		rel, err := entryPath(hdr.Name)
		if err != nil {
			return err
		}

		extracted := filepath.Join(workDir, rel)
		dest := filepath.Join(workDir, filepath.Base(rel))

		if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
			return err
		}
		// dest may have been an extraction directory
		delete(created, dest)

		if err := makeDirs(workDir, filepath.Dir(rel), created); err != nil {
			return err
		}

		if err := writeFile(extracted, tr, hdr.FileInfo().Mode().Perm()); err != nil {
			return errors.Wrapf(err, "extracting %s", hdr.Name)
		}

		if extracted != dest {
			if err := os.Rename(extracted, dest); err != nil {
				return err
			}
		}

		logger.WithField("file", filepath.Base(rel)).Debug("Imported")
	}

	return removeDirs(created)
}

// Export writes every regular file below workDir into a new archive at
// outputPath. It returns false, and writes nothing, if workDir does not exist.
func Export(workDir, outputPath string) (bool, error) {
	if _, err := os.Stat(workDir); os.IsNotExist(err) {
		return false, nil
	}

	absOut, err := filepath.Abs(outputPath)
	if err != nil {
		return false, err
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return false, err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	root := BaseName(outputPath)

	err = filepath.Walk(workDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if abs, _ := filepath.Abs(p); abs == absOut {
			return nil
		}
		return addFile(tw, p, path.Join(root, info.Name()), info)
	})
	if err != nil {
		return false, errors.Wrapf(err, "archiving %s", workDir)
	}

	if err := tw.Close(); err != nil {
		return false, err
	}
	if err := gz.Close(); err != nil {
		return false, err
	}

	return true, out.Close()
}

func addFile(tw *tar.Writer, src, name string, info os.FileInfo) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}

// entryPath returns the cleaned, relative, OS specific path of an entry. It
// rejects entries that would land outside the extraction root.
func entryPath(name string) (string, error) {
	clean := path.Clean(name)
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errors.Errorf("archive entry %s escapes the working directory", name)
	}
	return filepath.FromSlash(clean), nil
}

// makeDirs creates the directories of rel below root one level at a time and
// records the ones that did not exist before.
func makeDirs(root, rel string, created map[string]struct{}) error {
	if rel == "." {
		return nil
	}

	dir := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		dir = filepath.Join(dir, part)

		if _, err := os.Stat(dir); err == nil {
			continue
		}

		if err := os.Mkdir(dir, 0755); err != nil {
			return err
		}
		created[dir] = struct{}{}
	}

	return nil
}

// removeDirs removes the extraction directories, deepest first.
func removeDirs(created map[string]struct{}) error {
	dirs := make([]string, 0, len(created))
	for d := range created {
		dirs = append(dirs, d)
	}
	sort.Slice(dirs, func(i, j int) bool {
		return len(dirs[i]) > len(dirs[j])
	})

	for _, d := range dirs {
		info, err := os.Lstat(d)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			continue
		}

		if err := os.Remove(d); err != nil {
			if empty, _ := isEmptyDir(d); !empty {
				return errors.Wrap(ErrExtractionDirNotEmpty, d)
			}
			return errors.Wrapf(err, "removing extraction directory %s", d)
		}
	}

	return nil
}

func isEmptyDir(d string) (bool, error) {
	f, err := os.Open(d)
	if err != nil {
		return false, err
	}
	defer f.Close()

	names, err := f.Readdirnames(1)
	if err == io.EOF {
		return true, nil
	}
	return len(names) == 0, err
}

func writeFile(p string, r io.Reader, perm os.FileMode) error {
	if perm == 0 {
		perm = 0644
	}

	f, err := os.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
