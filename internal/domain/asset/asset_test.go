package asset

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

type mockDestroyer struct {
	mu       sync.Mutex
	calls    []string
	outcomes map[string]string
	errs     map[string]error

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func (m *mockDestroyer) Destroy(_ context.Context, id string) (string, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		cur := m.maxInFlight.Load()
		if n <= cur || m.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	m.calls = append(m.calls, id)
	m.mu.Unlock()

	if err := m.errs[id]; err != nil {
		return "", err
	}
	if o, ok := m.outcomes[id]; ok {
		return o, nil
	}
	return ResultOK, nil
}

func newTestManager(t *testing.T, d Destroyer, concurrency int) *Manager {
	t.Helper()
	m, err := NewManager(d, concurrency, noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	return m
}

func TestDeleteAll_ClassifiesOutcomes(t *testing.T) {
	d := &mockDestroyer{
		outcomes: map[string]string{"gone": ResultNotFound, "weird": "pending"},
		errs:     map[string]error{"broken": errors.New("connection reset")},
	}
	m := newTestManager(t, d, 1)

	out := m.DeleteAll(context.Background(), []string{"a", "gone", "broken", "b", "weird"})
	require.NotNil(t, out)

	assert.Equal(t, []string{"a", "b"}, out.Deleted)
	assert.Equal(t, []string{"gone"}, out.NotFound)
	require.Len(t, out.Errors, 2)
	assert.Equal(t, Failure{PublicID: "broken", Message: "connection reset"}, out.Errors[0])
	assert.Equal(t, Failure{PublicID: "weird", Outcome: "pending"}, out.Errors[1])

	// Every id is attempted even after a failure, in input order.
	assert.Equal(t, []string{"a", "gone", "broken", "b", "weird"}, d.calls)
}

func TestDeleteAll_Disabled(t *testing.T) {
	m := newTestManager(t, nil, 1)
	assert.False(t, m.Enabled())
	assert.Nil(t, m.DeleteAll(context.Background(), []string{"old/img1"}))
}

func TestDeleteAll_EmptyInput(t *testing.T) {
	m := newTestManager(t, &mockDestroyer{}, 1)

	out := m.DeleteAll(context.Background(), nil)
	require.NotNil(t, out)
	assert.Empty(t, out.Deleted)
	assert.Empty(t, out.NotFound)
	assert.Empty(t, out.Errors)
}

func TestDeleteAll_SequentialByDefault(t *testing.T) {
	d := &mockDestroyer{delay: 5 * time.Millisecond}
	m := newTestManager(t, d, 0)

	out := m.DeleteAll(context.Background(), []string{"1", "2", "3", "4"})
	assert.Len(t, out.Deleted, 4)
	assert.Equal(t, int32(1), d.maxInFlight.Load())
}

func TestDeleteAll_BoundedConcurrency(t *testing.T) {
	d := &mockDestroyer{delay: 20 * time.Millisecond}
	m := newTestManager(t, d, 2)

	ids := []string{"1", "2", "3", "4", "5", "6"}
	out := m.DeleteAll(context.Background(), ids)

	assert.Equal(t, ids, out.Deleted)
	assert.LessOrEqual(t, d.maxInFlight.Load(), int32(2))
}

func TestNewManager_NilMeter(t *testing.T) {
	m, err := NewManager(&mockDestroyer{}, 1, nil)
	require.NoError(t, err)

	out := m.DeleteAll(context.Background(), []string{"x"})
	assert.Equal(t, []string{"x"}, out.Deleted)
}
