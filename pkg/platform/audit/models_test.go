package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStore struct {
	entries []Entry
	err     error
}

func (r *recordingStore) Append(_ context.Context, e Entry) error {
	r.entries = append(r.entries, e)
	return r.err
}

func TestFanout_AppendsToEverySink(t *testing.T) {
	boom := errors.New("sink down")
	failing := &recordingStore{err: boom}
	healthy := &recordingStore{}

	err := Fanout{failing, healthy}.Append(context.Background(), Entry{Action: "locked"})

	assert.ErrorIs(t, err, boom)
	assert.Len(t, failing.entries, 1)
	assert.Len(t, healthy.entries, 1, "a failing sink must not starve the others")
}

func TestFanout_Empty(t *testing.T) {
	assert.NoError(t, Fanout{}.Append(context.Background(), Entry{}))
}

type readableStore struct {
	recordingStore
}

func (r *readableStore) ListRecent(_ context.Context, limit int) ([]Entry, error) {
	if limit > 0 && limit < len(r.entries) {
		return r.entries[:limit], nil
	}
	return r.entries, nil
}

func TestFanout_ListRecentUsesFirstReader(t *testing.T) {
	writeOnly := &recordingStore{}
	readable := &readableStore{}
	f := Fanout{writeOnly, readable}
	require.NoError(t, f.Append(context.Background(), Entry{Action: "submitted"}))

	entries, err := f.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = Fanout{writeOnly}.ListRecent(context.Background(), 10)
	assert.ErrorIs(t, err, ErrNoReader)
}
