package sourcecache

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/banksean/pipeforge/manifest"
	"gotest.tools/v3/assert"
)

func checksumOf(content string) (string, string) {
	sum := sha256.Sum256([]byte(content))
	return "sha256:" + hex.EncodeToString(sum[:]), base64.StdEncoding.EncodeToString([]byte(content))
}

func TestInlineHelper_FetchThenExists(t *testing.T) {
	dir := t.TempDir()
	h := NewInlineHelper(dir)
	checksum, encoded := checksumOf("hello world")

	exists, err := h.Exists(context.Background(), checksum)
	assert.NilError(t, err)
	assert.Assert(t, !exists)

	err = h.Fetch(context.Background(), checksum, manifest.SourceDesc{Inline: encoded})
	assert.NilError(t, err)

	exists, err = h.Exists(context.Background(), checksum)
	assert.NilError(t, err)
	assert.Assert(t, exists)
}

func TestInlineHelper_RejectsContentNotMatchingChecksum(t *testing.T) {
	dir := t.TempDir()
	h := NewInlineHelper(dir)
	checksum, _ := checksumOf("hello world")
	_, wrongEncoded := checksumOf("goodbye world")

	err := h.Fetch(context.Background(), checksum, manifest.SourceDesc{Inline: wrongEncoded})
	assert.ErrorContains(t, err, "checksum mismatch")
}

// countingHelper wraps InlineHelper to count how many times Fetch actually
// runs, so the coalescing test can assert a single fetch served two
// concurrent callers.
type countingHelper struct {
	*InlineHelper
	fetches atomic.Int32
}

func (c *countingHelper) Fetch(ctx context.Context, checksum string, descriptor manifest.SourceDesc) error {
	c.fetches.Add(1)
	return c.InlineHelper.Fetch(ctx, checksum, descriptor)
}

func TestCache_CoalescesConcurrentFetchesOfSameChecksum(t *testing.T) {
	dir := t.TempDir()
	ch := &countingHelper{InlineHelper: NewInlineHelper(dir)}
	cache := New(dir)
	cache.Register("inline", ch)

	checksum, encoded := checksumOf("concurrent content")
	descriptor := manifest.SourceDesc{Inline: encoded}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = cache.Ensure(context.Background(), "inline", checksum, descriptor)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NilError(t, err)
	}
	assert.Equal(t, ch.fetches.Load(), int32(1))
}

func TestCache_Ensure_UnknownKindIsSourceUnresolved(t *testing.T) {
	cache := New(t.TempDir())
	err := cache.Ensure(context.Background(), "unknown", "sha256:aa", manifest.SourceDesc{})
	assert.ErrorContains(t, err, "no helper registered")
}
