package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/sirupsen/logrus"
)

// AzureStorage keeps archived sources in an Azure Blob Storage container
type AzureStorage struct {
	client    *azblob.Client
	container string
}

// Ensure AzureStorage implements BlobStore
var _ BlobStore = (*AzureStorage)(nil)

// NewAzureStorage connects to accountName with the default Azure credential
// chain (managed identity, environment, CLI) and creates container if needed
func NewAzureStorage(ctx context.Context, accountName, container string) (*AzureStorage, error) {
	if accountName == "" {
		return nil, fmt.Errorf("storage account name is required")
	}

	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	client, err := azblob.NewClient(fmt.Sprintf("https://%s.blob.core.windows.net/", accountName), credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
	}

	s := &AzureStorage{client: client, container: container}
	if err := s.createContainer(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *AzureStorage) createContainer(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	switch {
	case err == nil:
		logrus.Infof("Created source archive container %s", s.container)
	case bloberror.HasCode(err, bloberror.ContainerAlreadyExists):
	default:
		return fmt.Errorf("failed to create container %s: %w", s.container, err)
	}
	return nil
}

// Store uploads data under name. The content type follows the name's extension.
func (s *AzureStorage) Store(ctx context.Context, name string, data []byte) error {
	opts := &azblob.UploadBufferOptions{}
	if contentType := mime.TypeByExtension(path.Ext(name)); contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &contentType}
	}

	if _, err := s.client.UploadBuffer(ctx, s.container, name, data, opts); err != nil {
		return fmt.Errorf("failed to upload blob %s: %w", name, err)
	}
	logrus.WithField("blob", name).Debug("Archived source")
	return nil
}

// Retrieve downloads the blob stored under name. A missing blob yields ErrNotFound.
func (s *AzureStorage) Retrieve(ctx context.Context, name string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, name, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil, fmt.Errorf("blob %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download blob %s: %w", name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", name, err)
	}
	return data, nil
}
