package downloader

import (
	"context"
	"fmt"

	"github.com/italolelis/dropbox_exporter/internal/logctx"
	"github.com/italolelis/dropbox_exporter/internal/remote"
)

// Enumerator walks a remote folder tree and collects every file in it.
type Enumerator struct {
	client        remote.Client
	refreshBudget int
}

func NewEnumerator(client remote.Client, refreshBudget int) *Enumerator {
	return &Enumerator{client: client, refreshBudget: refreshBudget}
}

// ListFiles returns every file below root. Each folder is paginated to the end
// before its subfolders are visited depth-first in listing order. Any listing
// failure aborts the whole walk.
func (e *Enumerator) ListFiles(ctx context.Context, root string) ([]remote.Entry, error) {
	seen := make(map[string]struct{})

	return e.listDir(ctx, root, seen)
}

func (e *Enumerator) listDir(ctx context.Context, dir string, seen map[string]struct{}) ([]remote.Entry, error) {
	logger := logctx.LoggerFromContext(ctx)

	var (
		files      []remote.Entry
		subFolders []string
		page       *remote.Page
	)

	err := remote.WithRefresh(ctx, e.client, e.refreshBudget, "list_folder", func(ctx context.Context) error {
		var err error

		page, err = e.client.ListFolder(ctx, dir)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list folder %s: %w", dir, err)
	}

	for {
		for _, entry := range page.Files() {
			if markSeen(seen, entry.PathLower) {
				files = append(files, entry)
			}
		}

		for _, entry := range page.Folders() {
			if markSeen(seen, entry.PathLower) {
				subFolders = append(subFolders, entry.PathLower)
			}
		}

		if !page.HasMore {
			break
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cursor := page.Cursor

		err := remote.WithRefresh(ctx, e.client, e.refreshBudget, "list_folder_continue", func(ctx context.Context) error {
			var err error

			page, err = e.client.ListFolderContinue(ctx, cursor)

			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to continue listing folder %s: %w", dir, err)
		}
	}

	logger.InfoContext(ctx, "folder listed", "dir", dir, "files", len(files), "folders", len(subFolders))

	for _, folder := range subFolders {
		logger.DebugContext(ctx, "fetching content information", "dir", folder)

		nested, err := e.listDir(ctx, folder, seen)
		if err != nil {
			return nil, err
		}

		files = append(files, nested...)
	}

	return files, nil
}

// markSeen records path and reports whether it was not seen before.
func markSeen(seen map[string]struct{}, path string) bool {
	if _, ok := seen[path]; ok {
		return false
	}

	seen[path] = struct{}{}

	return true
}
