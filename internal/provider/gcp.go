package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cloudflux/orchestrator/pkg/types"
)

// GCPTierClasses maps orchestrator tiers to GCS storage classes.
var GCPTierClasses = TierClasses{
	types.TierHot:     "STANDARD",
	types.TierWarm:    "NEARLINE",
	types.TierCold:    "COLDLINE",
	types.TierArchive: "ARCHIVE",
}

// GCPAdapter talks to Google Cloud Storage's JSON API over plain
// net/http. As with AzureAdapter, no GCS client library appears
// anywhere in the retrieval pack, so this is the documented stdlib
// fallback.
type GCPAdapter struct {
	httpClient  *http.Client
	accessToken string
	logger      *slog.Logger
}

// NewGCPAdapter constructs a REST-based GCS adapter. accessToken is an
// OAuth2 bearer token obtained by the caller from credentialsRef; token
// refresh is outside this adapter's concern, matching how AWSAdapter
// leaves credential rotation to the SDK's provider chain.
func NewGCPAdapter(accessToken string, logger *slog.Logger) *GCPAdapter {
	return &GCPAdapter{
		httpClient:  &http.Client{Timeout: DefaultCallDeadline},
		accessToken: accessToken,
		logger:      logger.With("component", "provider.gcp"),
	}
}

func (a *GCPAdapter) Provider() types.Provider { return types.ProviderGCP }

func (a *GCPAdapter) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.accessToken)
}

type gcsObject struct {
	Name         string `json:"name"`
	Size         string `json:"size"`
	Updated      string `json:"updated"`
	Etag         string `json:"etag"`
	StorageClass string `json:"storageClass"`
}

type gcsListResponse struct {
	Items         []gcsObject `json:"items"`
	NextPageToken string      `json:"nextPageToken"`
}

type gcpIterator struct {
	adapter   *GCPAdapter
	container string
	prefix    string
	pageToken string
	started   bool

	page    []types.ObjectRef
	idx     int
	current types.ObjectRef
	err     error
}

func (a *GCPAdapter) Enumerate(ctx context.Context, container, prefix string) (ObjectIterator, error) {
	return &gcpIterator{adapter: a, container: container, prefix: prefix}, nil
}

func toObjectRef(o gcsObject, container string) types.ObjectRef {
	var size uint64
	fmt.Sscanf(o.Size, "%d", &size)
	updated, _ := time.Parse(time.RFC3339, o.Updated)
	return types.ObjectRef{
		Provider:             types.ProviderGCP,
		Container:            container,
		Key:                  o.Name,
		SizeBytes:            size,
		LastModified:         updated,
		ProviderStorageClass: o.StorageClass,
		ETag:                 o.Etag,
	}
}

func (it *gcpIterator) fetchPage(ctx context.Context) error {
	q := url.Values{}
	q.Set("prefix", it.prefix)
	if it.pageToken != "" {
		q.Set("pageToken", it.pageToken)
	}
	endpoint := fmt.Sprintf("https://storage.googleapis.com/storage/v1/b/%s/o?%s", it.container, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return transientErr("provider.gcp", "Enumerate", err)
	}
	it.adapter.authorize(req)

	resp, err := it.adapter.httpClient.Do(req)
	if err != nil {
		return transientErr("provider.gcp", "Enumerate", err)
	}
	defer resp.Body.Close()
	if err := gcpStatusToError("provider.gcp", "Enumerate", it.prefix, resp.StatusCode); err != nil {
		return err
	}

	var parsed gcsListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return transientErr("provider.gcp", "Enumerate", err)
	}

	it.page = it.page[:0]
	for _, o := range parsed.Items {
		it.page = append(it.page, toObjectRef(o, it.container))
	}
	it.idx = 0
	it.pageToken = parsed.NextPageToken
	it.started = true
	return nil
}

func (it *gcpIterator) Next(ctx context.Context) bool {
	for it.idx >= len(it.page) {
		if it.started && it.pageToken == "" {
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

func (it *gcpIterator) Current() types.ObjectRef { return it.current }
func (it *gcpIterator) Err() error                { return it.err }

func (a *GCPAdapter) Stat(ctx context.Context, container, key string) (types.ObjectRef, error) {
	ctx, cancel := WithDefaultDeadline(ctx)
	defer cancel()

	endpoint := fmt.Sprintf("https://storage.googleapis.com/storage/v1/b/%s/o/%s", container, url.PathEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return types.ObjectRef{}, transientErr("provider.gcp", "Stat", err)
	}
	a.authorize(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return types.ObjectRef{}, transientErr("provider.gcp", "Stat", err)
	}
	defer resp.Body.Close()
	if err := gcpStatusToError("provider.gcp", "Stat", key, resp.StatusCode); err != nil {
		return types.ObjectRef{}, err
	}

	var obj gcsObject
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return types.ObjectRef{}, transientErr("provider.gcp", "Stat", err)
	}
	return toObjectRef(obj, container), nil
}

func (a *GCPAdapter) CopyObject(ctx context.Context, src types.ObjectRef, destContainer, destKey string, noOverwrite bool) (uint64, error) {
	ctx, cancel := WithDefaultDeadline(ctx)
	defer cancel()

	if noOverwrite {
		if _, err := a.Stat(ctx, destContainer, destKey); err == nil {
			return 0, conflictErr("provider.gcp", "CopyObject", destKey)
		}
	}

	endpoint := fmt.Sprintf("https://storage.googleapis.com/storage/v1/b/%s/o/%s/rewriteTo/b/%s/o/%s",
		src.Container, url.PathEscape(src.Key), destContainer, url.PathEscape(destKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return 0, transientErr("provider.gcp", "CopyObject", err)
	}
	a.authorize(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, transientErr("provider.gcp", "CopyObject", err)
	}
	defer resp.Body.Close()
	if err := gcpStatusToError("provider.gcp", "CopyObject", destKey, resp.StatusCode); err != nil {
		return 0, err
	}
	return src.SizeBytes, nil
}

func (a *GCPAdapter) Delete(ctx context.Context, container, key string) error {
	ctx, cancel := WithDefaultDeadline(ctx)
	defer cancel()

	endpoint := fmt.Sprintf("https://storage.googleapis.com/storage/v1/b/%s/o/%s", container, url.PathEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return transientErr("provider.gcp", "Delete", err)
	}
	a.authorize(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return transientErr("provider.gcp", "Delete", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return gcpStatusToError("provider.gcp", "Delete", key, resp.StatusCode)
}

func (a *GCPAdapter) SetStorageClass(ctx context.Context, container, key string, class string) error {
	ctx, cancel := WithDefaultDeadline(ctx)
	defer cancel()

	body, _ := json.Marshal(map[string]string{"storageClass": class})
	endpoint := fmt.Sprintf("https://storage.googleapis.com/storage/v1/b/%s/o/%s/rewriteTo/b/%s/o/%s",
		container, url.PathEscape(key), container, url.PathEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return transientErr("provider.gcp", "SetStorageClass", err)
	}
	a.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return transientErr("provider.gcp", "SetStorageClass", err)
	}
	defer resp.Body.Close()
	return gcpStatusToError("provider.gcp", "SetStorageClass", key, resp.StatusCode)
}

func gcpStatusToError(component, op, key string, status int) error {
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
