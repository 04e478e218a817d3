package remote

import (
	"context"
	"io"

	"github.com/italolelis/dropbox_exporter/internal/telemetry"
)

// InstrumentedClient wraps Client with telemetry.
type InstrumentedClient struct {
	client     Client
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedClient creates a new instrumented remote client.
func NewInstrumentedClient(client Client, tel *telemetry.Telemetry, clientType string) *InstrumentedClient {
	return &InstrumentedClient{
		client:     client,
		telemetry:  tel,
		clientType: clientType,
	}
}

// ListFolder lists a folder with telemetry.
func (c *InstrumentedClient) ListFolder(ctx context.Context, path string) (*Page, error) {
	var result *Page

	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "list_folder", func(ctx context.Context) error {
		var err error

		result, err = c.client.ListFolder(ctx, path)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ListFolderContinue fetches the next listing page with telemetry.
func (c *InstrumentedClient) ListFolderContinue(ctx context.Context, cursor string) (*Page, error) {
	var result *Page

	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "list_folder_continue", func(ctx context.Context) error {
		var err error

		result, err = c.client.ListFolderContinue(ctx, cursor)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Download opens a download stream with telemetry. Only opening the stream is
// measured; the transfer itself is measured by the downloader.
func (c *InstrumentedClient) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	var result io.ReadCloser

	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "download", func(ctx context.Context) error {
		var err error

		result, err = c.client.Download(ctx, path)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// RefreshCredential refreshes the access token with telemetry.
func (c *InstrumentedClient) RefreshCredential(ctx context.Context) error {
	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "refresh_credential", c.client.RefreshCredential)

	status := "success"
	if err != nil {
		status = "error"
	}

	if c.telemetry != nil {
		c.telemetry.RecordCredentialRefresh(c.clientType, status)
	}

	return err
}

// CurrentAccountDisplayName fetches the account name with telemetry.
func (c *InstrumentedClient) CurrentAccountDisplayName(ctx context.Context) (string, error) {
	var name string

	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "get_current_account", func(ctx context.Context) error {
		var err error

		name, err = c.client.CurrentAccountDisplayName(ctx)

		return err
	})

	return name, err
}
