package callcontrol

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockAdapterRecordsAndScripts(t *testing.T) {
	m := NewMockAdapter()
	m.SetScript(func(op Op, chatID int64, _ string) error {
		if op == OpLeave {
			return Fail(op, KindTransport, chatID, "bridge down")
		}
		return nil
	})
	ctx := context.Background()

	require.NoError(t, m.Join(ctx, 1))
	err := m.Leave(ctx, 1)
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))
	assert.Equal(t, "bridge down", Reason(err))

	calls := m.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, OpJoin, calls[0].Op)
	assert.Less(t, calls[0].End, calls[1].Start)
	assert.Error(t, calls[1].Err)
	assert.Len(t, m.CallsOf(OpLeave), 1)
}

func TestMockAdapterTracksConcurrency(t *testing.T) {
	m := NewMockAdapter()
	m.SetDelay(20 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = m.Join(context.Background(), id)
		}(int64(i))
	}
	wg.Wait()
	assert.Greater(t, m.MaxInFlight(), 1)
}

func TestKindOfUntypedError(t *testing.T) {
	assert.Equal(t, KindTransport, KindOf(context.Canceled))
	assert.Equal(t, Kind(""), KindOf(nil))
}
