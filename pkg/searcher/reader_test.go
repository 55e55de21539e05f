package searcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
)

func TestParseRefreshPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    RefreshPolicy
		wantErr bool
	}{
		{"", RefreshOnStale, false},
		{"manual", RefreshManual, false},
		{"on_stale", RefreshOnStale, false},
		{"interval", RefreshInterval, false},
		{"sometimes", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRefreshPolicy(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, amerrors.ErrCodeConfigInvalid, amerrors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReader_IsolatedUntilRefresh(t *testing.T) {
	// Given: a reader opened after one commit
	ctx := context.Background()
	f := newFixture(t, nil)
	f.add(t, item{ID: "1", Title: "lamp"})

	r, err := f.provider.Open(ctx)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	// When: a new document is committed
	f.add(t, item{ID: "2", Title: "desk"})

	// Then: the reader still sees only the first document and knows it is stale
	n, err := r.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	assert.False(t, r.IsCurrent())
	err = r.EnsureCurrent()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStaleSnapshot)
	assert.True(t, amerrors.IsRetryable(err))

	// When: refreshing
	fresh, err := f.provider.Refresh(ctx, r)
	require.NoError(t, err)
	defer func() { _ = fresh.Close() }()

	// Then: the new reader sees both and the old one is unchanged
	got, err := fresh.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, got)
	assert.NoError(t, fresh.EnsureCurrent())
	assert.Equal(t, uint64(2), fresh.Generation())
	assert.Equal(t, uint64(1), r.Generation())
}

func TestProvider_RefreshReturnsSameReaderWhenCurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.add(t, item{ID: "1"})

	r, err := f.provider.Open(ctx)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	same, err := f.provider.Refresh(ctx, r)
	require.NoError(t, err)
	assert.Same(t, r, same)
}

func TestProvider_OnStalePolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.add(t, item{ID: "1"})

	first, err := f.provider.Acquire(ctx)
	require.NoError(t, err)
	again, err := f.provider.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, first, again)
	require.NoError(t, f.provider.Release(again))

	f.add(t, item{ID: "2"})

	next, err := f.provider.Acquire(ctx)
	require.NoError(t, err)
	defer func() { _ = f.provider.Release(next) }()
	assert.NotSame(t, first, next)
	assert.Equal(t, uint64(2), next.Generation())

	// The swapped-out reader stays usable until released.
	n, err := first.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	require.NoError(t, f.provider.Release(first))
}

func TestProvider_ManualPolicy(t *testing.T) {
	// Given: a provider that only refreshes on request
	ctx := context.Background()
	f := newFixture(t, []ProviderOption{WithRefreshPolicy(RefreshManual)})
	f.add(t, item{ID: "1"})

	r, err := f.provider.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, f.provider.Release(r))

	// When: committing more work
	f.add(t, item{ID: "2"})

	// Then: Acquire keeps the old generation
	r, err = f.provider.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.Generation())
	require.NoError(t, f.provider.Release(r))

	// And: MaybeRefresh moves to the new one
	swapped, err := f.provider.MaybeRefresh(ctx)
	require.NoError(t, err)
	assert.True(t, swapped)
	r, err = f.provider.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.Generation())
	require.NoError(t, f.provider.Release(r))

	swapped, err = f.provider.MaybeRefresh(ctx)
	require.NoError(t, err)
	assert.False(t, swapped)
}

func TestProvider_IntervalPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []ProviderOption{WithRefreshPolicy(RefreshInterval), WithRefreshInterval(time.Hour)})
	f.add(t, item{ID: "1"})

	r, err := f.provider.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, f.provider.Release(r))

	f.add(t, item{ID: "2"})

	// Within the interval the stale reader is kept.
	r, err = f.provider.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.Generation())
	require.NoError(t, f.provider.Release(r))

	// Once the interval has passed it is replaced.
	f.provider.mu.Lock()
	f.provider.lastRefresh = time.Now().Add(-2 * time.Hour)
	f.provider.mu.Unlock()

	r, err = f.provider.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.Generation())
	require.NoError(t, f.provider.Release(r))
}

func TestProvider_Closed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	r, err := f.provider.Acquire(ctx)
	require.NoError(t, err)

	require.NoError(t, f.provider.Close())
	require.NoError(t, f.provider.Close())

	// Held readers outlive the provider.
	_, err = r.DocCount()
	require.NoError(t, err)
	require.NoError(t, f.provider.Release(r))

	_, err = f.provider.Acquire(ctx)
	assert.ErrorIs(t, err, ErrProviderClosed)
	_, err = f.provider.Open(ctx)
	assert.ErrorIs(t, err, ErrProviderClosed)
}

func TestReader_CloseIsBalanced(t *testing.T) {
	f := newFixture(t, nil)
	r, err := f.provider.Open(context.Background())
	require.NoError(t, err)

	r.acquire()
	require.NoError(t, r.Close())
	assert.Equal(t, int32(1), r.refs.Load())
	require.NoError(t, r.Close())
	assert.Equal(t, int32(0), r.refs.Load())
	require.NoError(t, r.Close())
	assert.Equal(t, int32(0), r.refs.Load())
}
