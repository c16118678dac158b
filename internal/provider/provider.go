// Package provider defines the uniform operation set every cloud
// backend implements, and translates provider-native failures into the
// shared error taxonomy so callers never branch on a provider's own
// error types.
package provider

import (
	"context"
	"time"

	"github.com/cloudflux/orchestrator/pkg/errors"
	"github.com/cloudflux/orchestrator/pkg/types"
)

// Adapter is the capability set every provider backend exposes.
// Implementations must be safe for concurrent use by many workers;
// connection pooling is each adapter's own concern.
type Adapter interface {
	// Provider identifies which backend this adapter serves.
	Provider() types.Provider

	// Enumerate returns a lazy, paginated sequence of ObjectRef under
	// container/prefix. Ordering across pages is provider-defined.
	Enumerate(ctx context.Context, container, prefix string) (ObjectIterator, error)

	// Stat fetches fresh metadata for one object. Fails with NotFound,
	// PermissionDenied, or Transient.
	Stat(ctx context.Context, container, key string) (types.ObjectRef, error)

	// CopyObject copies src into destContainer/destKey. When src and
	// dest share a provider the adapter may use a server-side copy;
	// otherwise it streams bytes through the caller. noOverwrite, when
	// true, fails with DestExistsConflict if the destination exists.
	CopyObject(ctx context.Context, src types.ObjectRef, destContainer, destKey string, noOverwrite bool) (bytesCopied uint64, err error)

	// Delete removes an object. Deleting a non-existent object is a
	// no-op success.
	Delete(ctx context.Context, container, key string) error

	// SetStorageClass changes an object's tier in place, when the
	// provider supports it.
	SetStorageClass(ctx context.Context, container, key string, class string) error
}

// ObjectIterator walks a paginated enumerate result. Callers call Next
// until it returns false, then check Err.
type ObjectIterator interface {
	Next(ctx context.Context) bool
	Current() types.ObjectRef
	Err() error
}

// TierClasses maps a Tier to the provider-native storage class string
// used by set_storage_class and reported by enumerate/stat.
type TierClasses map[types.Tier]string

// ClassToTier inverts a TierClasses map for classifying discovered
// objects by their provider_storage_class.
func ClassToTier(classes TierClasses, class string) types.Tier {
	for tier, c := range classes {
		if c == class {
			return tier
		}
	}
	return types.TierWarm
}

// ColdestSupported rounds a temperature down to the coldest tier a
// provider's TierClasses actually has an entry for (placement rule C).
func ColdestSupported(classes TierClasses, want types.Tier) types.Tier {
	order := []types.Tier{types.TierArchive, types.TierCold, types.TierWarm, types.TierHot}
	start := 0
	for i, t := range order {
		if t == want {
			start = i
			break
		}
	}
	for _, t := range order[start:] {
		if _, ok := classes[t]; ok {
			return t
		}
	}
	return types.TierWarm
}

// DefaultCallDeadline is applied to every outbound provider call absent a caller
// deadline, per the 60s-per-file-transfer-step default.
const DefaultCallDeadline = 60 * time.Second

// WithDefaultDeadline returns ctx unchanged if it already carries a
// deadline, otherwise attaches DefaultCallDeadline.
func WithDefaultDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultCallDeadline)
}

// notFoundErr, permissionErr, and friends are small constructors so
// every adapter reports the same shape for the same failure.
func notFoundErr(component, op, key string) error {
	return errors.New(errors.CodeNotFound, "object not found: "+key).
		WithComponent(component).WithOperation(op)
}

func permissionErr(component, op string, cause error) error {
	return errors.Wrap(errors.CodePermissionDenied, cause, "permission denied").
		WithComponent(component).WithOperation(op)
}

func transientErr(component, op string, cause error) error {
	return errors.Wrap(errors.CodeTransient, cause, "transient provider error").
		WithComponent(component).WithOperation(op)
}

func unavailableErr(component, op string, cause error) error {
	return errors.Wrap(errors.CodeUnavailable, cause, "provider unavailable").
		WithComponent(component).WithOperation(op)
}

func quotaErr(component, op string, cause error) error {
	return errors.Wrap(errors.CodeQuotaExceeded, cause, "provider quota exceeded").
		WithComponent(component).WithOperation(op)
}

func conflictErr(component, op, key string) error {
	return errors.New(errors.CodeDestExistsConflict, "destination exists: "+key).
		WithComponent(component).WithOperation(op)
}
