package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagefox/rockstar-booth/internal/model"
)

var sixGuitars = []string{"Les Paul", "Stratocaster", "Telecaster", "SG", "Flying V", "Explorer"}

func newReadySession(t *testing.T) (*Store, *Session) {
	t.Helper()

	store := NewStore()
	sess := store.Create()
	require.NoError(t, sess.SetGuitars(sixGuitars))
	require.NoError(t, sess.Confirm())

	return store, sess
}

func TestStoreGet(t *testing.T) {
	store := NewStore()
	sess := store.Create()

	got, err := store.Get(sess.ID())
	require.NoError(t, err)
	assert.Same(t, sess, got)

	store.Delete(sess.ID())
	_, err = store.Get(sess.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSetGuitarsValidation(t *testing.T) {
	tests := []struct {
		name    string
		guitars []string
		wantErr error
	}{
		{"unknown guitar", []string{"Banjo"}, ErrUnknownGuitar},
		{"duplicate guitar", []string{"SG", "SG"}, ErrDuplicateGuitar},
		{"too many", append(append([]string{}, sixGuitars...), "Jazzmaster"), ErrSelectionSize},
		{"partial selection ok", []string{"SG", "Telecaster"}, nil},
		{"full selection ok", sixGuitars, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := NewStore().Create()
			err := sess.SetGuitars(tt.guitars)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfirmRequiresExactlySix(t *testing.T) {
	sess := NewStore().Create()
	require.NoError(t, sess.SetGuitars(sixGuitars[:5]))

	assert.ErrorIs(t, sess.Confirm(), ErrSelectionSize)
	assert.Equal(t, model.PhaseSelecting, sess.Phase())

	require.NoError(t, sess.SetGuitars(sixGuitars))
	require.NoError(t, sess.Confirm())
	assert.Equal(t, model.PhaseReady, sess.Phase())
}

func TestSetGuitarsRejectedAfterConfirm(t *testing.T) {
	_, sess := newReadySession(t)

	assert.ErrorIs(t, sess.SetGuitars(sixGuitars), ErrInvalidPhase)
}

func TestAttachPhotoPhases(t *testing.T) {
	sess := NewStore().Create()

	// Not allowed before the selection is confirmed.
	assert.ErrorIs(t, sess.AttachPhoto("uploads/a.jpg"), ErrInvalidPhase)

	require.NoError(t, sess.SetGuitars(sixGuitars))
	require.NoError(t, sess.Confirm())
	require.NoError(t, sess.AttachPhoto("uploads/a.jpg"))

	assert.Equal(t, model.PhaseUploaded, sess.Phase())
	assert.Equal(t, "uploads/a.jpg", sess.PhotoPath())
}

func TestReplacingPhotoInvalidatesResults(t *testing.T) {
	_, sess := newReadySession(t)
	require.NoError(t, sess.AttachPhoto("uploads/a.jpg"))

	keys, err := sess.BeginGeneration(func() {})
	require.NoError(t, err)
	sess.MarkPending(keys)
	for _, key := range keys {
		sess.MarkDone(key, "portraits/"+key+".jpg")
	}
	sess.FinishGeneration(false)
	sess.SetAlbum("albums/a.jpg")

	require.NoError(t, sess.AttachPhoto("uploads/b.jpg"))

	snap := sess.Snapshot()
	assert.Equal(t, model.PhaseUploaded, snap.Phase)
	assert.Empty(t, snap.Items)
	assert.Empty(t, snap.AlbumPath)
	assert.Equal(t, "uploads/b.jpg", sess.PhotoPath())
}

func TestBeginGenerationFreezesKeys(t *testing.T) {
	_, sess := newReadySession(t)
	require.NoError(t, sess.AttachPhoto("uploads/a.jpg"))

	keys, err := sess.BeginGeneration(func() {})
	require.NoError(t, err)
	assert.Equal(t, sixGuitars, keys)
	assert.Equal(t, model.PhaseGenerating, sess.Phase())

	// A second start while generating is rejected.
	_, err = sess.BeginGeneration(func() {})
	assert.ErrorIs(t, err, ErrInvalidPhase)
}

func TestFinishGeneration(t *testing.T) {
	_, sess := newReadySession(t)
	require.NoError(t, sess.AttachPhoto("uploads/a.jpg"))

	_, err := sess.BeginGeneration(func() {})
	require.NoError(t, err)
	sess.FinishGeneration(false)
	assert.Equal(t, model.PhaseResults, sess.Phase())

	// A canceled run goes back to uploaded so the batch can restart.
	_, err = sess.BeginGeneration(func() {})
	assert.ErrorIs(t, err, ErrInvalidPhase) // results, not uploaded

	require.NoError(t, sess.AttachPhoto("uploads/a.jpg"))
	_, err = sess.BeginGeneration(func() {})
	require.NoError(t, err)
	sess.FinishGeneration(true)
	assert.Equal(t, model.PhaseUploaded, sess.Phase())
}

func TestCancelGeneration(t *testing.T) {
	_, sess := newReadySession(t)
	require.NoError(t, sess.AttachPhoto("uploads/a.jpg"))

	assert.ErrorIs(t, sess.CancelGeneration(), ErrNotGenerating)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := sess.BeginGeneration(cancel)
	require.NoError(t, err)

	require.NoError(t, sess.CancelGeneration())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestTryMarkPendingGuard(t *testing.T) {
	_, sess := newReadySession(t)

	// Unknown key: nothing to regenerate.
	assert.False(t, sess.TryMarkPending("SG"))

	sess.MarkPending([]string{"SG"})
	assert.False(t, sess.TryMarkPending("SG"), "pending key must be refused")

	sess.MarkDone("SG", "portraits/sg.jpg")
	assert.True(t, sess.TryMarkPending("SG"))

	item, ok := sess.Item("SG")
	require.True(t, ok)
	assert.Equal(t, model.StatusPending, item.Status)
}

func TestDoneItems(t *testing.T) {
	_, sess := newReadySession(t)
	require.NoError(t, sess.AttachPhoto("uploads/a.jpg"))

	keys, err := sess.BeginGeneration(func() {})
	require.NoError(t, err)
	sess.MarkPending(keys)

	_, complete := sess.DoneItems()
	assert.False(t, complete)

	for _, key := range keys[:5] {
		sess.MarkDone(key, "portraits/"+key+".jpg")
	}
	sess.MarkError(keys[5], "boom")

	_, complete = sess.DoneItems()
	assert.False(t, complete, "an errored item blocks completion")

	sess.MarkDone(keys[5], "portraits/last.jpg")
	results, complete := sess.DoneItems()
	require.True(t, complete)
	assert.Len(t, results, 6)
	assert.Equal(t, "portraits/last.jpg", results[keys[5]])
}

func TestDoneItemsEmptySelectionNeverComplete(t *testing.T) {
	sess := NewStore().Create()

	// With no guitars picked there is nothing to iterate, and iterating
	// nothing must not count as a complete batch.
	results, complete := sess.DoneItems()
	assert.False(t, complete)
	assert.Nil(t, results)
}

func TestSnapshotOrdersItemsBySelection(t *testing.T) {
	_, sess := newReadySession(t)
	require.NoError(t, sess.AttachPhoto("uploads/a.jpg"))

	keys, err := sess.BeginGeneration(func() {})
	require.NoError(t, err)
	sess.MarkPending(keys)

	// Complete in reverse order; the snapshot must stay in selection order.
	for i := len(keys) - 1; i >= 0; i-- {
		sess.MarkDone(keys[i], "portraits/"+keys[i]+".jpg")
	}

	snap := sess.Snapshot()
	require.Len(t, snap.Items, 6)
	for i, item := range snap.Items {
		assert.Equal(t, sixGuitars[i], item.Key)
	}
}

func TestConcurrentItemWritesDoNotInterfere(t *testing.T) {
	_, sess := newReadySession(t)
	require.NoError(t, sess.AttachPhoto("uploads/a.jpg"))

	keys, err := sess.BeginGeneration(func() {})
	require.NoError(t, err)
	sess.MarkPending(keys)

	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			sess.MarkDone(k, "portraits/"+k+".jpg")
		}(key)
	}

	// Concurrent reads while workers write.
	for i := 0; i < 10; i++ {
		_ = sess.Snapshot()
	}
	wg.Wait()

	for _, key := range keys {
		item, ok := sess.Item(key)
		require.True(t, ok)
		assert.Equal(t, model.StatusDone, item.Status)
		assert.Equal(t, "portraits/"+key+".jpg", item.ResultPath)
	}
}
