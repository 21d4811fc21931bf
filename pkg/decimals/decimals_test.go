package decimals

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

type fakeViewer struct {
	calls int32
	fail  bool
}

func (f *fakeViewer) ViewContract(ctx context.Context, receiver tokenaccount.Account, method string, args any) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.fail {
		return nil, assert.AnError
	}
	return json.Marshal(map[string]int{"decimals": 18})
}

func TestEnsureCachesOnSuccess(t *testing.T) {
	fv := &fakeViewer{}
	c := New(fv)
	tok := tokenaccount.MustParse("usdc.near")

	d, err := c.Ensure(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, 18, d)

	_, err = c.Ensure(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fv.calls))
}

func TestEnsureNotCachedOnFailure(t *testing.T) {
	fv := &fakeViewer{fail: true}
	c := New(fv)
	tok := tokenaccount.MustParse("usdc.near")

	_, err := c.Ensure(context.Background(), tok)
	require.Error(t, err)
	_, ok := c.GetCached(tok)
	assert.False(t, ok)
}

func TestEnsureDecimalsCachedBatchesConcurrently(t *testing.T) {
	fv := &fakeViewer{}
	c := New(fv)
	toks := []tokenaccount.Account{
		tokenaccount.MustParse("a.near"),
		tokenaccount.MustParse("b.near"),
		tokenaccount.MustParse("c.near"),
	}

	out := c.EnsureDecimalsCached(context.Background(), toks)
	assert.Len(t, out, 3)
	for _, tok := range toks {
		assert.Equal(t, 18, out[tok])
	}
	assert.Equal(t, 3, c.Len())
}
