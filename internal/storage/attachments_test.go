package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectName(t *testing.T) {
	id := uuid.MustParse("6f1c2a8e-2b7d-4a55-9d43-0b3e5c1f9a10")
	now := time.Date(2026, 5, 17, 8, 0, 0, 0, time.UTC)

	assert.Equal(t, "sales-orders/2026/05/17/6f1c2a8e-2b7d-4a55-9d43-0b3e5c1f9a10.pdf", ObjectName(now, "PO 1234.PDF", id))
	assert.Equal(t, "sales-orders/2026/05/17/6f1c2a8e-2b7d-4a55-9d43-0b3e5c1f9a10", ObjectName(now, "noext", id))
	assert.Equal(t, "sales-orders/2026/05/17/6f1c2a8e-2b7d-4a55-9d43-0b3e5c1f9a10", ObjectName(now, "x.averyveryverylongext", id))
}

func TestValidateRef(t *testing.T) {
	require.NoError(t, ValidateRef("sales-orders/2026/05/17/a.pdf"))
	require.ErrorIs(t, ValidateRef("other/a.pdf"), ErrInvalidRef)
	require.ErrorIs(t, ValidateRef("sales-orders/../secrets"), ErrInvalidRef)
}

func TestNewMinioStoreRequiresBucket(t *testing.T) {
	_, err := NewMinioStore(Config{Endpoint: "localhost:9000"})
	require.Error(t, err)

	store, err := NewMinioStore(Config{Endpoint: "localhost:9000", Bucket: "attachments", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	require.ErrorIs(t, store.Delete(context.Background(), "elsewhere/a.pdf"), ErrInvalidRef)
}
