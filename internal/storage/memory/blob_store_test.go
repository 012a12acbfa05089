package memory

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-file-converter/internal/convert"
)

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "converted/out.pdf", "application/pdf", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://converted/out.pdf", uri)
	require.Equal(t, "application/pdf", store.ContentType("converted/out.pdf"))
	require.Equal(t, 1, store.Len())

	payload[0] = 'C'
	rc, err := store.GetObject(context.Background(), "converted/out.pdf")
	require.NoError(t, err)
	defer rc.Close() //nolint:errcheck // in-memory reader
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "content", string(got))
}

func TestBlobStoreGetMissing(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().GetObject(context.Background(), "converted/nope.pdf")
	require.ErrorIs(t, err, convert.ErrNotFound)
}
