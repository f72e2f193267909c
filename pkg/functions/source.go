package functions

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/functions/apiv2/functionspb"
	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"

	"github.com/3leaps/gcpal/pkg/gcp"
)

// IgnoreFile lists paths left out of an uploaded source directory, in
// .gitignore style.
const IgnoreFile = ".gcloudignore"

// ZipSource archives dir into memory, skipping paths matched by the
// directory's ignore file. Archive names are slash-separated and relative
// to dir.
func ZipSource(dir, ignoreFile string) ([]byte, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: source %q is not a directory", gcp.ErrInvalidArgument, dir)
	}
	pm, err := ignoreMatcher(dir, ignoreFile)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == "." {
			return err
		}
		if pm != nil {
			skip, err := pm.MatchesOrParentMatches(rel)
			if err != nil {
				return err
			}
			if skip {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		return addFile(zw, path, filepath.ToSlash(rel))
	})
	if err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func ignoreMatcher(dir, ignoreFile string) (*patternmatcher.PatternMatcher, error) {
	if ignoreFile == "" {
		ignoreFile = IgnoreFile
	}
	if !filepath.IsAbs(ignoreFile) {
		ignoreFile = filepath.Join(dir, ignoreFile)
	}
	f, err := os.Open(ignoreFile)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ignoreFile, err)
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	return patternmatcher.New(patterns)
}

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// RepoSource reads a Cloud Source Repositories URL such as
//
//	https://source.developers.google.com/projects/p/repos/r/moveable-aliases/main/paths/fn
//
// into a build source. "moveable-aliases" names a branch, "fixed-aliases"
// a tag and "revisions" a commit. Without a revision the master branch
// is used.
func RepoSource(rawURL string) (*functionspb.RepoSource, error) {
	rest, ok := strings.CutPrefix(rawURL, "https://source.developers.google.com/")
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a source repository URL", gcp.ErrInvalidArgument, rawURL)
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 4 || parts[0] != "projects" || parts[2] != "repos" {
		return nil, fmt.Errorf("%w: %q is not a source repository URL", gcp.ErrInvalidArgument, rawURL)
	}
	src := &functionspb.RepoSource{
		ProjectId: parts[1],
		RepoName:  parts[3],
		Revision:  &functionspb.RepoSource_BranchName{BranchName: "master"},
	}
	for i := 4; i+1 < len(parts); i += 2 {
		switch parts[i] {
		case "moveable-aliases":
			src.Revision = &functionspb.RepoSource_BranchName{BranchName: parts[i+1]}
		case "fixed-aliases":
			src.Revision = &functionspb.RepoSource_TagName{TagName: parts[i+1]}
		case "revisions":
			src.Revision = &functionspb.RepoSource_CommitSha{CommitSha: parts[i+1]}
		case "paths":
			src.Dir = strings.Join(parts[i+1:], "/")
			return src, nil
		default:
			return nil, fmt.Errorf("%w: unexpected %q in %q", gcp.ErrInvalidArgument, parts[i], rawURL)
		}
	}
	return src, nil
}
