package fsx

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/pkg/errors"
)

// AzureBlob is the FileSystem backend for azblob:// URIs, completing the
// three-cloud-backend set adopted from aistore's storage-backend pattern.
type AzureBlob struct {
	containerName string
	client        *azblob.Client
}

// NewAzureBlob constructs an Azure Blob backend rooted at containerName,
// using an anonymous client (no credential) against
// https://<containerName>.blob.core.windows.net/, so containerName serves as
// both the storage account name and the container name.
func NewAzureBlob(containerName string) (*AzureBlob, error) {
	accountURL := "https://" + containerName + ".blob.core.windows.net/"
	client, err := azblob.NewClientWithNoCredential(accountURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "fsx/azblob: new client")
	}
	return &AzureBlob{containerName: containerName, client: client}, nil
}

// Open implements FileSystem.
func (a *AzureBlob) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := a.client.DownloadStream(ctx, a.containerName, blobKey(path), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "fsx/azblob: download %s", path)
	}
	return resp.Body, nil
}

type azWriteCloser struct {
	buf  bytes.Buffer
	name string
	up   func(name string, body []byte) error
}

func (w *azWriteCloser) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *azWriteCloser) Close() error                { return w.up(w.name, w.buf.Bytes()) }

// Create implements FileSystem.
func (a *AzureBlob) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	return &azWriteCloser{
		name: blobKey(path),
		up: func(name string, body []byte) error {
			_, err := a.client.UploadBuffer(ctx, a.containerName, name, body, nil)
			return errors.Wrapf(err, "fsx/azblob: upload %s", name)
		},
	}, nil
}

// List implements FileSystem.
func (a *AzureBlob) List(ctx context.Context, dir string) ([]string, error) {
	prefix := blobKey(dir) + "/"
	pager := a.client.NewListBlobsFlatPager(a.containerName, &container.ListBlobsFlatOptions{Prefix: &prefix})
	var names []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "fsx/azblob: list %s", dir)
		}
		for _, item := range page.Segment.BlobItems {
			name := strings.TrimPrefix(*item.Name, prefix)
			if strings.Contains(name, "/") {
				continue // nested under a sub-directory, not directly under dir
			}
			names = append(names, name)
		}
	}
	return names, nil
}

// Mkdir implements FileSystem. Blob containers have no directories; this
// is a no-op.
func (a *AzureBlob) Mkdir(context.Context, string) error { return nil }

// Rename implements FileSystem via server-side copy + delete.
func (a *AzureBlob) Rename(ctx context.Context, oldPath, newPath string) error {
	srcURL := a.client.ServiceClient().NewContainerClient(a.containerName).NewBlobClient(blobKey(oldPath)).URL()
	dstClient := a.client.ServiceClient().NewContainerClient(a.containerName).NewBlobClient(blobKey(newPath))
	if _, err := dstClient.StartCopyFromURL(ctx, srcURL, nil); err != nil {
		return errors.Wrapf(err, "fsx/azblob: copy %s -> %s", oldPath, newPath)
	}
	_, err := a.client.DeleteBlob(ctx, a.containerName, blobKey(oldPath), nil)
	return errors.Wrapf(err, "fsx/azblob: delete %s", oldPath)
}

// Exists implements FileSystem.
func (a *AzureBlob) Exists(ctx context.Context, path string) (bool, error) {
	pager := a.client.NewListBlobsFlatPager(a.containerName, &container.ListBlobsFlatOptions{Prefix: ptr(blobKey(path))})
	if !pager.More() {
		return false, nil
	}
	page, err := pager.NextPage(ctx)
	if err != nil {
		return false, errors.Wrapf(err, "fsx/azblob: exists %s", path)
	}
	return len(page.Segment.BlobItems) > 0, nil
}

func blobKey(path string) string { return strings.TrimPrefix(path, "/") }
func ptr(s string) *string       { return &s }
