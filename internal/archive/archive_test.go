package archive

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"testing"
	"time"

	"github.com/jotfs/fsstress/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	data map[string]map[string][]byte
}

func newMockStore() *mockStore {
	return &mockStore{make(map[string]map[string][]byte, 0)}
}

func (s *mockStore) Put(ctx context.Context, bucket string, key string, r io.Reader) error {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return err
	}
	if _, ok := s.data[bucket]; !ok {
		s.data[bucket] = make(map[string][]byte, 0)
	}
	s.data[bucket][key] = data
	return nil
}

func (s *mockStore) Get(ctx context.Context, bucket string, key string) (io.ReadCloser, error) {
	data, ok := s.data[bucket][key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return ioutil.NopCloser(bytes.NewReader(data)), nil
}

func TestArchive(t *testing.T) {
	s := newMockStore()
	a := New(s, "reports", "fsstress/")
	ctx := context.Background()

	r := Report{
		RunID:          "c0ffee",
		Port:           "/dev/ttyUSB1",
		Seed:           7,
		StartedAt:      time.Date(2020, 5, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt:     time.Date(2020, 5, 1, 11, 0, 0, 0, time.UTC),
		StopReason:     "context canceled",
		Iterations:     1000,
		AvgLatencyMs:   12.5,
		Mismatches:     2,
		Evictions:      9,
		WearSamples:    100,
		LastWearCycles: 45678,
	}
	key, err := a.Put(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, "fsstress/c0ffee.json.zst", key)

	// Stored compressed, not as plain JSON
	raw := s.data["reports"][key]
	assert.False(t, bytes.HasPrefix(raw, []byte("{")))

	r2, err := a.Get(ctx, "c0ffee")
	require.NoError(t, err)
	assert.Equal(t, r, r2)

	_, err = a.Get(ctx, "missing")
	assert.Equal(t, store.ErrNotFound, err)
}
