package sink

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/proceedings-crawler/internal/crawler"
)

type fakeSink struct {
	mu        sync.Mutex
	records   []crawler.PaperRecord
	appendErr error
	closeErr  error
	closed    bool
}

func (s *fakeSink) Append(_ context.Context, rec crawler.PaperRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeSink) Close() error {
	s.closed = true
	return s.closeErr
}

func TestFanoutWritesAll(t *testing.T) {
	t.Parallel()

	primary, db := &fakeSink{}, &fakeSink{}
	f := NewFanout(primary, []Named{{Name: "db", Sink: db}}, nil)

	require.NoError(t, f.Append(context.Background(), crawler.PaperRecord{Title: "a"}))
	assert.Len(t, primary.records, 1)
	assert.Len(t, db.records, 1)
	require.NoError(t, f.Close())
	assert.True(t, primary.closed)
	assert.True(t, db.closed)
}

func TestFanoutSecondaryFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	primary := &fakeSink{}
	flaky := &fakeSink{appendErr: errors.New("db down")}
	f := NewFanout(primary, []Named{{Name: "flaky-test", Sink: flaky}}, nil)

	require.NoError(t, f.Append(context.Background(), crawler.PaperRecord{Title: "a"}))
	assert.Len(t, primary.records, 1)
	assert.Empty(t, flaky.records)
}

func TestFanoutPrimaryFailureIsReturned(t *testing.T) {
	t.Parallel()

	primary := &fakeSink{appendErr: errors.New("disk full")}
	secondary := &fakeSink{}
	f := NewFanout(primary, []Named{{Name: "db", Sink: secondary}}, nil)

	require.EqualError(t, f.Append(context.Background(), crawler.PaperRecord{}), "disk full")
	assert.Empty(t, secondary.records, "secondaries only see recorded rows")
}

func TestFanoutCloseJoinsErrors(t *testing.T) {
	t.Parallel()

	f := NewFanout(&fakeSink{closeErr: errors.New("a")}, []Named{{Name: "db", Sink: &fakeSink{closeErr: errors.New("b")}}}, nil)
	err := f.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close primary sink: a")
	assert.Contains(t, err.Error(), "close db sink: b")
}
