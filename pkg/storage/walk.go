package storage

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"strings"
	"time"
)

// WalkFunc is called once per directory, top-down, with the directory's
// gs:// path and the base names of its sub-directories and files.
// Returning fs.SkipDir skips the directory's children; any other error
// stops the walk.
type WalkFunc func(dir string, dirs, files []string) error

// Walk visits the directory tree below the path.
func (s *Storage) Walk(ctx context.Context, fn WalkFunc) (err error) {
	defer s.settings.Observe(Service, "Walk", time.Now(), &err)

	if err := s.requireBucket("Walk"); err != nil {
		return err
	}
	queue := []string{dirPrefix(s.file)}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		prefix := queue[0]
		queue = queue[1:]

		res, err := s.list(ctx, prefix, "/")
		if err != nil {
			return s.wrap("Walk", err)
		}
		var dirs, files []string
		for _, o := range res.Objects {
			if o.Key == prefix {
				continue
			}
			files = append(files, path.Base(o.Key))
		}
		for _, p := range res.CommonPrefixes {
			dirs = append(dirs, path.Base(strings.TrimSuffix(p, "/")))
		}

		dir := strings.TrimSuffix(s.objectPath(prefix), "/")
		if err := fn(dir, dirs, files); err != nil {
			if errors.Is(err, fs.SkipDir) {
				continue
			}
			return err
		}
		children := make([]string, 0, len(res.CommonPrefixes))
		children = append(children, res.CommonPrefixes...)
		queue = append(children, queue...)
	}
	return nil
}
