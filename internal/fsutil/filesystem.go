// Package fsutil holds the filesystem operations shared by the pipelines:
// output directory checks, frame listing, stem-matched replacement and
// zip archiving.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotEmpty is returned when the output root already holds files.
var ErrNotEmpty = errors.New("output directory is not empty")

// PrepareOutputDir accepts a missing or empty directory and creates it. An
// existing non-empty directory, or a file at path, is rejected without
// touching anything.
func PrepareOutputDir(path string) error {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to stat output directory: %w", err)
	case !info.IsDir():
		return fmt.Errorf("output path %s is a file: %w", path, ErrNotEmpty)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("failed to read output directory: %w", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("%s holds %d entries: %w", path, len(entries), ErrNotEmpty)
	}
	return nil
}

// Exists checks if a file or directory exists.
func Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// ListFiles returns the names of regular files in dir, sorted. Exported frame
// names carry their timestamp or index, so sorted order is frame order.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Stem strips the extension: "000123.png" becomes "000123".
func Stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// CopyFile copies src to dst, replacing dst.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ReplaceByStem overwrites every file in dst with the file in src that has
// the same stem. Every dst entry sharing that stem is removed first, so a
// frame exported as .png in dst and .jpg in src leaves only the .jpg. A dst
// file with no counterpart in src is an error. It returns the number of
// files replaced.
func ReplaceByStem(dst, src string) (int, error) {
	dstFiles, err := ListFiles(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", dst, err)
	}
	srcFiles, err := ListFiles(src)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", src, err)
	}

	byStem := make(map[string]string, len(srcFiles))
	for _, name := range srcFiles {
		byStem[Stem(name)] = name
	}
	dstByStem := make(map[string][]string, len(dstFiles))
	var stems []string
	for _, name := range dstFiles {
		stem := Stem(name)
		if _, ok := dstByStem[stem]; !ok {
			stems = append(stems, stem)
		}
		dstByStem[stem] = append(dstByStem[stem], name)
	}

	replaced := 0
	for _, stem := range stems {
		srcName, ok := byStem[stem]
		if !ok {
			return replaced, fmt.Errorf("no file matching %s in %s", stem, src)
		}
		for _, old := range dstByStem[stem] {
			if err := os.Remove(filepath.Join(dst, old)); err != nil {
				return replaced, fmt.Errorf("failed to remove %s: %w", old, err)
			}
		}
		if err := CopyFile(filepath.Join(src, srcName), filepath.Join(dst, srcName)); err != nil {
			return replaced, fmt.Errorf("failed to copy %s: %w", srcName, err)
		}
		replaced++
	}
	return replaced, nil
}

// RemoveAll removes every path and any children they contain.
func RemoveAll(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RemoveEmptyDirs removes each directory that exists and holds no entries.
// Missing and non-empty directories are left alone.
func RemoveEmptyDirs(dirs ...string) error {
	var errs []error
	for _, d := range dirs {
		entries, err := os.ReadDir(d)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
