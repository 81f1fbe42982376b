package storage

import (
	"context"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/vrabczak/BuildingRadar/internal/domain"
	"github.com/vrabczak/BuildingRadar/internal/ports/output"
)

// AzureStorage implements ObjectStorage for tiles in Azure Blob Storage.
type AzureStorage struct {
	client    *azblob.Client
	container string
	prefix    string
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string
	AccountName      string
	AccountKey       string
	ConnectionString string
	Prefix           string
}

// NewAzureStorage creates a new Azure Blob Storage adapter.
func NewAzureStorage(cfg AzureConfig) (*AzureStorage, error) {
	client, err := newAzureClient(cfg)
	if err != nil {
		return nil, err
	}

	return &AzureStorage{
		client:    client,
		container: cfg.Container,
		prefix:    strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func newAzureClient(cfg AzureConfig) (*azblob.Client, error) {
	if cfg.ConnectionString != "" {
		return azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, err
	}
	url := "https://" + cfg.AccountName + ".blob.core.windows.net/"
	return azblob.NewClientWithSharedKeyCredential(url, cred, nil)
}

// List returns all tiles in the container under the prefix.
func (s *AzureStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: &s.prefix,
	})

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, &domain.StorageError{Operation: "list", Key: s.container, Err: err}
		}

		for _, blob := range page.Segment.BlobItems {
			if obj, ok := s.tileObject(blob); ok {
				objects = append(objects, obj)
			}
		}
	}

	output.SortObjects(objects)
	return objects, nil
}

// tileObject converts a blob into a StorageObject, skipping non-tiles.
func (s *AzureStorage) tileObject(blob *container.BlobItem) (output.StorageObject, bool) {
	if blob.Name == nil || !output.IsTileFile(*blob.Name) {
		return output.StorageObject{}, false
	}

	obj := output.StorageObject{Key: relativeKey(*blob.Name, s.prefix)}
	if p := blob.Properties; p != nil {
		if p.ContentLength != nil {
			obj.Size = *p.ContentLength
		}
		if p.LastModified != nil {
			obj.LastModified = p.LastModified.Unix()
		}
		if p.ETag != nil {
			obj.ETag = string(*p.ETag)
		}
	}
	return obj, true
}

// GetReader streams a tile blob.
func (s *AzureStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, joinKey(s.prefix, key), nil)
	if err != nil {
		return nil, &domain.StorageError{Operation: "read", Key: key, Err: err}
	}
	return resp.Body, nil
}
