package downloader

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/italolelis/dropbox_exporter/internal/remote"
)

// fakeClient serves an in-memory folder tree. Folder listings are split into
// pages; the cursor of a page is "<folder>|<next page index>".
type fakeClient struct {
	mu sync.Mutex

	folders  map[string][][]remote.Entry
	contents map[string]string
	account  string

	// number of calls answered with an expired credential before succeeding
	expireList     int
	expireDownload int
	expireAccount  int
	refreshErr     error

	listCalls     int
	continueCalls int
	downloadCalls int
	refreshCalls  int

	downloadDelay time.Duration
	active        atomic.Int32
	maxActive     atomic.Int32
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		folders:  make(map[string][][]remote.Entry),
		contents: make(map[string]string),
		account:  "Jane Doe",
	}
}

func (f *fakeClient) addFolder(path string, pages ...[]remote.Entry) {
	f.folders[strings.ToLower(path)] = pages
}

func (f *fakeClient) addFile(path, content string) remote.Entry {
	f.contents[strings.ToLower(path)] = content

	return fileEntry(path, int64(len(content)))
}

func fileEntry(path string, size int64) remote.Entry {
	return remote.Entry{
		Name:        path[strings.LastIndex(path, "/")+1:],
		PathLower:   strings.ToLower(path),
		PathDisplay: path,
		Size:        size,
	}
}

func folderEntry(path string) remote.Entry {
	return remote.Entry{
		Name:        path[strings.LastIndex(path, "/")+1:],
		PathLower:   strings.ToLower(path),
		PathDisplay: path,
		IsFolder:    true,
	}
}

func expired(op string) error {
	return &remote.ExpiredCredentialError{Operation: op, Summary: "expired_access_token/"}
}

func (f *fakeClient) page(folder string, i int) (*remote.Page, error) {
	pages, ok := f.folders[folder]
	if !ok || i >= len(pages) {
		return nil, &remote.APIError{Operation: "list_folder", StatusCode: 409, Summary: "path/not_found/"}
	}

	p := &remote.Page{Entries: pages[i]}
	if i+1 < len(pages) {
		p.HasMore = true
		p.Cursor = folder + "|" + strconv.Itoa(i+1)
	}

	return p, nil
}

func (f *fakeClient) ListFolder(_ context.Context, path string) (*remote.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++

	if f.expireList > 0 {
		f.expireList--

		return nil, expired("list_folder")
	}

	return f.page(strings.ToLower(path), 0)
}

func (f *fakeClient) ListFolderContinue(_ context.Context, cursor string) (*remote.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.continueCalls++

	sep := strings.LastIndex(cursor, "|")
	if sep < 0 {
		return nil, fmt.Errorf("bad cursor %q", cursor)
	}

	i, err := strconv.Atoi(cursor[sep+1:])
	if err != nil {
		return nil, err
	}

	return f.page(cursor[:sep], i)
}

func (f *fakeClient) Download(_ context.Context, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.downloadCalls++

	if f.expireDownload > 0 {
		f.expireDownload--
		f.mu.Unlock()

		return nil, expired("download")
	}

	content, ok := f.contents[path]
	delay := f.downloadDelay
	f.mu.Unlock()

	if !ok {
		return nil, &remote.APIError{Operation: "download", StatusCode: 409, Summary: "path/not_found/"}
	}

	n := f.active.Add(1)
	for {
		peak := f.maxActive.Load()
		if n <= peak || f.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}

	time.Sleep(delay)

	return &trackedBody{Reader: strings.NewReader(content), onClose: func() { f.active.Add(-1) }}, nil
}

func (f *fakeClient) RefreshCredential(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.refreshCalls++

	return f.refreshErr
}

func (f *fakeClient) CurrentAccountDisplayName(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.expireAccount > 0 {
		f.expireAccount--

		return "", expired("get_current_account")
	}

	return f.account, nil
}

type trackedBody struct {
	io.Reader
	once    sync.Once
	onClose func()
}

func (b *trackedBody) Close() error {
	b.once.Do(b.onClose)

	return nil
}
