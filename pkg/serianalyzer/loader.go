package serianalyzer

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/715d/serianalyzer/internal/index"
	"github.com/715d/serianalyzer/pkg/classfile"
)

// LoaderOptions configures class loading.
type LoaderOptions struct {
	// Paths are jar files, class files or directories. Directories are
	// walked for both.
	Paths []string
}

// Classes is an indexed set of classes ready for analysis.
type Classes struct {
	idx *index.Index
}

// Len returns the number of indexed classes.
func (c *Classes) Len() int {
	return c.idx.Len()
}

// LoadClasses reads and indexes every class found under opts.Paths. Files
// are parsed concurrently but indexed in path order, so when a class is
// defined twice the first definition wins. Classes that fail to parse are
// skipped with a warning; unreadable inputs are returned as errors.
func LoadClasses(ctx context.Context, opts LoaderOptions) (*Classes, error) {
	if len(opts.Paths) == 0 {
		return nil, errors.New("no input paths provided")
	}
	files, err := collectInputs(opts.Paths)
	if err != nil {
		return nil, err
	}

	// Each goroutine writes only its own slot.
	results := make([][]*classfile.Class, len(files))
	errs := make([]error, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(goruntime.NumCPU())
	for i, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i], errs[i] = loadFile(file)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	idx := index.New()
	for i, classes := range results {
		for _, c := range classes {
			if !idx.Add(c) {
				slog.Warn("duplicate class", "class", classfile.DottedName(c.Name), "source", files[i])
			}
		}
	}
	slog.Info("indexed classes", "count", idx.Len(), "files", len(files))
	return &Classes{idx: idx}, nil
}

func collectInputs(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && (isJar(path) || isClass(path)) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	return files, nil
}

func isJar(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".jar" || ext == ".war" || ext == ".zip"
}

func isClass(path string) bool {
	return strings.HasSuffix(path, ".class")
}

func loadFile(path string) ([]*classfile.Class, error) {
	if !isJar(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		c, err := classfile.Parse(data)
		if err != nil {
			slog.Warn("failed to parse class", "file", path, "error", err)
			return nil, nil
		}
		return []*classfile.Class{c}, nil
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer zr.Close()

	var out []*classfile.Class
	for _, f := range zr.File {
		if !isClass(f.Name) || strings.HasSuffix(f.Name, "module-info.class") {
			continue
		}
		data, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", path, f.Name, err)
		}
		c, err := classfile.Parse(data)
		if err != nil {
			slog.Warn("failed to parse class", "file", path, "entry", f.Name, "error", err)
			continue
		}
		out = append(out, c)
	}
	slog.Debug("loaded archive", "file", path, "classes", len(out))
	return out, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
