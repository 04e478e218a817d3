package remote

import (
	"context"
	"io"
	"time"
)

// Client is the capability the exporter needs from a remote storage account.
// Implementations must be safe for concurrent use. Every method may fail with
// an error matching ErrExpiredCredential when the access token is stale.
type Client interface {
	ListFolder(ctx context.Context, path string) (*Page, error)
	ListFolderContinue(ctx context.Context, cursor string) (*Page, error)
	Download(ctx context.Context, path string) (io.ReadCloser, error)
	RefreshCredential(ctx context.Context) error
	CurrentAccountDisplayName(ctx context.Context) (string, error)
}

// Entry is a single file or folder returned by a listing call.
type Entry struct {
	ID             string
	Name           string
	PathLower      string
	PathDisplay    string
	Size           int64
	IsFolder       bool
	ContentHash    string
	ServerModified time.Time
}

// Page is one page of a paginated folder listing.
type Page struct {
	Entries []Entry
	Cursor  string
	HasMore bool
}

func (p *Page) Files() []Entry {
	files := make([]Entry, 0, len(p.Entries))

	for _, e := range p.Entries {
		if !e.IsFolder {
			files = append(files, e)
		}
	}

	return files
}

func (p *Page) Folders() []Entry {
	var folders []Entry

	for _, e := range p.Entries {
		if e.IsFolder {
			folders = append(folders, e)
		}
	}

	return folders
}
