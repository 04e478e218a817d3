package downloader

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/italolelis/dropbox_exporter/internal/remote"
)

// Job pairs a remote file with the local path it is downloaded to.
type Job struct {
	Entry       remote.Entry
	Destination string
}

// DestinationPath maps remotePath under sourceRoot to a path under destRoot by
// stripping the source prefix. remotePath is a lower-cased listing path, so the
// source prefix is lower-cased before matching. Paths that would escape
// destRoot are rejected.
func DestinationPath(sourceRoot, destRoot, remotePath string) (string, error) {
	root := strings.ToLower(strings.TrimRight(sourceRoot, "/"))
	sub := remotePath

	if strings.HasPrefix(remotePath, root) {
		sub = remotePath[len(root):]
	}

	if sub != "" && !strings.HasPrefix(sub, "/") {
		// "/a/bc" is not under "/a/b"
		sub = remotePath
	}

	dest := filepath.Join(destRoot, filepath.FromSlash(sub))

	rel, err := filepath.Rel(destRoot, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("remote path %q escapes destination %q", remotePath, destRoot)
	}

	return dest, nil
}

// NewJobs builds one job per file. Files whose destination cannot be computed
// are returned separately so the caller can account for them.
func NewJobs(files []remote.Entry, sourceRoot, destRoot string) ([]Job, map[int]error) {
	jobs := make([]Job, len(files))

	var invalid map[int]error

	for i, f := range files {
		dest, err := DestinationPath(sourceRoot, destRoot, f.PathLower)
		if err != nil {
			if invalid == nil {
				invalid = make(map[int]error)
			}

			invalid[i] = err
		}

		jobs[i] = Job{Entry: f, Destination: dest}
	}

	return jobs, invalid
}
