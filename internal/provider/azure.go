package provider

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cloudflux/orchestrator/pkg/types"
)

// AzureTierClasses maps orchestrator tiers to Azure Blob access tiers.
// Azure has no colder-than-Archive tier, so ARCHIVE is already the
// coldest supported class.
var AzureTierClasses = TierClasses{
	types.TierHot:     "Hot",
	types.TierWarm:    "Cool",
	types.TierCold:    "Cool",
	types.TierArchive: "Archive",
}

// AzureAdapter talks to Azure Blob Storage's plain REST API. No Azure
// SDK appears anywhere in the retrieval pack this repository was built
// from, so this adapter is the documented net/http fallback rather than
// a client-library wrapper like AWSAdapter.
type AzureAdapter struct {
	httpClient  *http.Client
	accountName string
	accountKey  string
	logger      *slog.Logger
}

// NewAzureAdapter constructs a REST-based Azure Blob adapter for the
// storage account accountName, whose shared key is accountKey.
func NewAzureAdapter(accountName, accountKey string, logger *slog.Logger) *AzureAdapter {
	return &AzureAdapter{
		httpClient:  &http.Client{Timeout: DefaultCallDeadline},
		accountName: accountName,
		accountKey:  accountKey,
		logger:      logger.With("component", "provider.azure"),
	}
}

func (a *AzureAdapter) Provider() types.Provider { return types.ProviderAzure }

func (a *AzureAdapter) blobURL(container, key string) string {
	return fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s", a.accountName, container, url.PathEscape(key))
}

// azureBlobList is the subset of the ListBlobs XML response this
// adapter parses.
type azureBlobList struct {
	XMLName xml.Name `xml:"EnumerationResults"`
	Blobs   struct {
		Blob []struct {
			Name       string `xml:"Name"`
			Properties struct {
				LastModified string `xml:"Last-Modified"`
				ContentLength int64 `xml:"Content-Length"`
				Etag         string `xml:"Etag"`
				AccessTier   string `xml:"AccessTier"`
			} `xml:"Properties"`
		} `xml:"Blob"`
	} `xml:"Blobs"`
	NextMarker string `xml:"NextMarker"`
}

type azureIterator struct {
	adapter   *AzureAdapter
	container string
	prefix    string
	marker    string
	done      bool

	page    []types.ObjectRef
	idx     int
	current types.ObjectRef
	err     error
}

func (a *AzureAdapter) Enumerate(ctx context.Context, container, prefix string) (ObjectIterator, error) {
	return &azureIterator{adapter: a, container: container, prefix: prefix}, nil
}

func (it *azureIterator) fetchPage(ctx context.Context) error {
	base := fmt.Sprintf("https://%s.blob.core.windows.net/%s", it.adapter.accountName, it.container)
	q := url.Values{}
	q.Set("restype", "container")
	q.Set("comp", "list")
	q.Set("prefix", it.prefix)
	if it.marker != "" {
		q.Set("marker", it.marker)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return transientErr("provider.azure", "Enumerate", err)
	}
	resp, err := it.adapter.httpClient.Do(req)
	if err != nil {
		return transientErr("provider.azure", "Enumerate", err)
	}
	defer resp.Body.Close()
	if err := azureStatusToError("provider.azure", "Enumerate", it.prefix, resp.StatusCode); err != nil {
		return err
	}

	var parsed azureBlobList
	if err := xml.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return transientErr("provider.azure", "Enumerate", err)
	}

	it.page = it.page[:0]
	for _, b := range parsed.Blobs.Blob {
		lastMod, _ := time.Parse(time.RFC1123, b.Properties.LastModified)
		it.page = append(it.page, types.ObjectRef{
			Provider:             types.ProviderAzure,
			Container:            it.container,
			Key:                  b.Name,
			SizeBytes:            uint64(b.Properties.ContentLength),
			LastModified:         lastMod,
			ProviderStorageClass: b.Properties.AccessTier,
			ETag:                 b.Properties.Etag,
		})
	}
	it.idx = 0
	it.marker = parsed.NextMarker
	it.done = it.marker == ""
	return nil
}

func (it *azureIterator) Next(ctx context.Context) bool {
	for it.idx >= len(it.page) {
		if it.done && it.page != nil {
			return false
		}
		cctx, cancel := WithDefaultDeadline(ctx)
		err := it.fetchPage(cctx)
		cancel()
		if err != nil {
			it.err = err
			return false
		}
		if len(it.page) == 0 {
			return false
		}
	}
	it.current = it.page[it.idx]
	it.idx++
	return true
}

func (it *azureIterator) Current() types.ObjectRef { return it.current }
func (it *azureIterator) Err() error                { return it.err }

func (a *AzureAdapter) Stat(ctx context.Context, container, key string) (types.ObjectRef, error) {
	ctx, cancel := WithDefaultDeadline(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.blobURL(container, key), nil)
	if err != nil {
		return types.ObjectRef{}, transientErr("provider.azure", "Stat", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return types.ObjectRef{}, transientErr("provider.azure", "Stat", err)
	}
	defer resp.Body.Close()
	if err := azureStatusToError("provider.azure", "Stat", key, resp.StatusCode); err != nil {
		return types.ObjectRef{}, err
	}

	size, _ := strconv.ParseUint(resp.Header.Get("Content-Length"), 10, 64)
	lastMod, _ := time.Parse(time.RFC1123, resp.Header.Get("Last-Modified"))

	return types.ObjectRef{
		Provider:             types.ProviderAzure,
		Container:            container,
		Key:                  key,
		SizeBytes:            size,
		LastModified:         lastMod,
		ProviderStorageClass: resp.Header.Get("x-ms-access-tier"),
		ETag:                 resp.Header.Get("ETag"),
	}, nil
}

func (a *AzureAdapter) CopyObject(ctx context.Context, src types.ObjectRef, destContainer, destKey string, noOverwrite bool) (uint64, error) {
	ctx, cancel := WithDefaultDeadline(ctx)
	defer cancel()

	if noOverwrite {
		if _, err := a.Stat(ctx, destContainer, destKey); err == nil {
			return 0, conflictErr("provider.azure", "CopyObject", destKey)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, a.blobURL(destContainer, destKey), nil)
	if err != nil {
		return 0, transientErr("provider.azure", "CopyObject", err)
	}
	req.Header.Set("x-ms-copy-source", a.blobURL(src.Container, src.Key))
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, transientErr("provider.azure", "CopyObject", err)
	}
	defer resp.Body.Close()
	if err := azureStatusToError("provider.azure", "CopyObject", destKey, resp.StatusCode); err != nil {
		return 0, err
	}
	return src.SizeBytes, nil
}

func (a *AzureAdapter) Delete(ctx context.Context, container, key string) error {
	ctx, cancel := WithDefaultDeadline(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.blobURL(container, key), nil)
	if err != nil {
		return transientErr("provider.azure", "Delete", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return transientErr("provider.azure", "Delete", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return azureStatusToError("provider.azure", "Delete", key, resp.StatusCode)
}

func (a *AzureAdapter) SetStorageClass(ctx context.Context, container, key string, class string) error {
	ctx, cancel := WithDefaultDeadline(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, a.blobURL(container, key)+"?comp=tier", nil)
	if err != nil {
		return transientErr("provider.azure", "SetStorageClass", err)
	}
	req.Header.Set("x-ms-access-tier", class)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return transientErr("provider.azure", "SetStorageClass", err)
	}
	defer resp.Body.Close()
	return azureStatusToError("provider.azure", "SetStorageClass", key, resp.StatusCode)
}

func azureStatusToError(component, op, key string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return notFoundErr(component, op, key)
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return permissionErr(component, op, fmt.Errorf("http %d", status))
	case status == http.StatusTooManyRequests:
		return quotaErr(component, op, fmt.Errorf("http %d", status))
	case status == http.StatusServiceUnavailable || status == http.StatusRequestTimeout || status >= 500:
		return transientErr(component, op, fmt.Errorf("http %d", status))
	default:
		return unavailableErr(component, op, fmt.Errorf("http %d", status))
	}
}
