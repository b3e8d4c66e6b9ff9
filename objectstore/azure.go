package objectstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// Azure stores objects in Azure Blob Storage. URLs name the container as host:
// az://container/path/to/blob.
type Azure struct {
	client  *azblob.Client
	retries int
	logger  *slog.Logger
}

// NewAzure creates an Azure store from a connection string or from an account
// name and shared key.
func NewAzure(cfg Config, retries int, logger *slog.Logger) (*Azure, error) {
	var (
		client *azblob.Client
		err    error
	)
	switch {
	case cfg.AzureConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.AzureConnectionString, nil)
	case cfg.AzureAccountName != "" && cfg.AzureAccountKey != "":
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(cfg.AzureAccountName, cfg.AzureAccountKey)
		if err != nil {
			return nil, fmt.Errorf("create shared key credential: %w", err)
		}
		serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AzureAccountName)
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	default:
		return nil, fmt.Errorf("azure store requires azure_connection_string or azure_account_name and azure_account_key")
	}
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &Azure{client: client, retries: retries, logger: logger}, nil
}

func (a *Azure) Open(ctx context.Context, p string) (File, error) {
	container, blob, err := splitBucketKey(p)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = withRetry(ctx, a.retries, a.logger, "get", p, func(ctx context.Context) error {
		resp, err := a.client.DownloadStream(ctx, container, blob, nil)
		if err != nil {
			return mapAzureError(p, err)
		}
		defer resp.Body.Close()
		data, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return newMemFile(data), nil
}

func (a *Azure) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	container, blob, err := splitBucketKey(p)
	if err != nil {
		return nil, err
	}
	return &uploadWriter{upload: func(data []byte) error {
		return withRetry(ctx, a.retries, a.logger, "put", p, func(ctx context.Context) error {
			_, err := a.client.UploadBuffer(ctx, container, blob, data, nil)
			return mapAzureError(p, err)
		})
	}}, nil
}

func (a *Azure) List(ctx context.Context, prefix string) ([]string, error) {
	container, key, err := splitBucketKey(prefix)
	if err != nil {
		return nil, err
	}
	if key != "" && !strings.HasSuffix(key, "/") {
		key += "/"
	}
	var out []string
	pager := a.client.NewListBlobsFlatPager(container, &azblob.ListBlobsFlatOptions{Prefix: &key})
	for pager.More() {
		var page azblob.ListBlobsFlatResponse
		err = withRetry(ctx, a.retries, a.logger, "list", prefix, func(ctx context.Context) error {
			var err error
			page, err = pager.NextPage(ctx)
			return mapAzureError(prefix, err)
		})
		if err != nil {
			return nil, err
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			out = append(out, fmt.Sprintf("%s://%s/%s", Scheme(prefix), container, *item.Name))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (a *Azure) IsDir(ctx context.Context, p string) (bool, error) {
	_, key, err := splitBucketKey(p)
	if err != nil {
		return false, err
	}
	if key == "" {
		return true, nil
	}
	objects, err := a.List(ctx, p)
	if err != nil {
		return false, err
	}
	return len(objects) > 0, nil
}

func mapAzureError(p string, err error) error {
	switch {
	case err == nil:
		return nil
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound):
		return notExist(p, err)
	case bloberror.HasCode(err, bloberror.AuthenticationFailed, bloberror.AuthorizationFailure, bloberror.AuthorizationPermissionMismatch):
		return permission(p, err)
	}
	return err
}
