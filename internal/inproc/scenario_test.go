package inproc

import (
	"context"
	"testing"
	"time"

	"section-collab-be/internal/dto"
	"section-collab-be/internal/entity"
	"section-collab-be/internal/pkg/logger"
	"section-collab-be/pkg/collabclient"
	"section-collab-be/pkg/collaberr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func newStack(t *testing.T, ttl time.Duration) (*Stack, uuid.UUID) {
	t.Helper()
	s := NewStack(ttl, 10*time.Millisecond, logger.NewNopLogger())
	t.Cleanup(func() { _ = s.Close() })

	created, err := s.Collab.CreateDocument(context.Background(), entity.NewSession(uuid.New()), &dto.CreateDocumentRequest{
		ProjectId: uuid.New(),
		Name:      "Proposal",
		Sections: []dto.SectionPayload{
			{Id: "intro", Title: "Introduction"},
			{Id: "overview", Title: "Overview"},
		},
	})
	require.NoError(t, err)
	return s, created.Id
}

func newEditor(t *testing.T, s *Stack, docId, userId uuid.UUID) *collabclient.Editor {
	t.Helper()
	e, err := collabclient.NewEditor(context.Background(), s.Backend(userId), docId, userId, collabclient.Options{
		Debounce: 20 * time.Millisecond,
		Logger:   collabclient.NopLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func focus(t *testing.T, e *collabclient.Editor, sectionId string) collabclient.FocusResult {
	t.Helper()
	select {
	case res := <-e.Focus(sectionId):
		return res
	case <-time.After(waitFor):
		t.Fatal("focus did not complete")
	}
	return collabclient.FocusResult{}
}

func blur(t *testing.T, e *collabclient.Editor, sectionId string) error {
	t.Helper()
	select {
	case err := <-e.Blur(sectionId):
		return err
	case <-time.After(waitFor):
		t.Fatal("blur did not complete")
	}
	return nil
}

func section(v collabclient.View, id string) collabclient.SectionView {
	for _, s := range v.Sections {
		if s.Id == id {
			return s
		}
	}
	return collabclient.SectionView{}
}

func TestTypingThenBlurCommitsAndFrees(t *testing.T) {
	s, docId := newStack(t, time.Minute)
	alice := uuid.New()
	a := newEditor(t, s, docId, alice)

	require.NoError(t, focus(t, a, "intro").Err)
	require.NoError(t, a.Edit("intro", "H"))
	require.NoError(t, a.Edit("intro", "He"))
	require.NoError(t, a.Edit("intro", "Hello"))
	require.NoError(t, blur(t, a, "intro"))

	snap, err := s.Collab.Snapshot(context.Background(), docId)
	require.NoError(t, err)
	assert.Equal(t, "Hello", snap.Version.Sections[0].Content)
	assert.Empty(t, snap.Locks)

	locks, err := s.Collab.GetActiveLocks(context.Background(), entity.NewSession(alice), docId)
	require.NoError(t, err)
	assert.Empty(t, locks)
}

func TestSecondEditorIsDeniedWithHolder(t *testing.T) {
	s, docId := newStack(t, time.Minute)
	alice, bob := uuid.New(), uuid.New()
	a := newEditor(t, s, docId, alice)
	b := newEditor(t, s, docId, bob)

	require.NoError(t, focus(t, a, "intro").Err)

	res := focus(t, b, "intro")
	require.ErrorIs(t, res.Err, collaberr.ErrLockDenied)
	require.NotNil(t, res.Holder)
	assert.Equal(t, alice, res.Holder.UserId)

	view := section(b.View(), "intro")
	assert.True(t, view.ReadOnly)
	assert.False(t, view.Editing)
	assert.ErrorIs(t, b.Edit("intro", "mine"), collaberr.ErrNotEditing)
}

func TestRemoteVersionDoesNotClobberHeldSection(t *testing.T) {
	s, docId := newStack(t, time.Minute)
	a := newEditor(t, s, docId, uuid.New())
	b := newEditor(t, s, docId, uuid.New())

	require.NoError(t, focus(t, a, "intro").Err)
	require.NoError(t, a.Edit("intro", "unsaved draft"))

	require.NoError(t, focus(t, b, "overview").Err)
	require.NoError(t, b.Edit("overview", "X"))
	require.NoError(t, blur(t, b, "overview"))

	assert.Eventually(t, func() bool {
		return section(a.View(), "overview").Content == "X"
	}, waitFor, 5*time.Millisecond)

	view := a.View()
	assert.Equal(t, "unsaved draft", section(view, "intro").Content)
	assert.True(t, section(view, "overview").JustUpdated)
}

func TestAbandonedLeaseExpires(t *testing.T) {
	s, docId := newStack(t, 50*time.Millisecond)
	alice := uuid.New()
	watcher := newEditor(t, s, docId, uuid.New())

	// a client that acquires and vanishes without releasing
	_, err := s.Backend(alice).AcquireLock(context.Background(), docId, "intro")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return section(watcher.View(), "intro").Holder != nil }, waitFor, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		locks, err := s.Collab.GetActiveLocks(context.Background(), entity.NewSession(alice), docId)
		return err == nil && len(locks) == 0
	}, waitFor, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return section(watcher.View(), "intro").Holder == nil }, waitFor, 5*time.Millisecond)
}

func TestDebounceCoalescesEdits(t *testing.T) {
	s, docId := newStack(t, time.Minute)
	a := newEditor(t, s, docId, uuid.New())

	require.NoError(t, focus(t, a, "intro").Err)
	for _, text := range []string{"a", "ab", "abc", "abcd"} {
		require.NoError(t, a.Edit("intro", text))
	}

	assert.Eventually(t, func() bool {
		snap, err := s.Collab.Snapshot(context.Background(), docId)
		return err == nil && snap.Version.Sections[0].Content == "abcd"
	}, waitFor, 5*time.Millisecond)

	versions, err := s.Collab.ListVersions(context.Background(), entity.NewSession(uuid.New()), docId)
	require.NoError(t, err)
	assert.Len(t, versions, 2, "four quick edits produce one commit")
	assert.False(t, section(a.View(), "intro").Dirty)
}

func TestFocusMovesBetweenSections(t *testing.T) {
	s, docId := newStack(t, time.Minute)
	alice := uuid.New()
	a := newEditor(t, s, docId, alice)

	require.NoError(t, focus(t, a, "intro").Err)
	require.NoError(t, a.Edit("intro", "first"))
	require.NoError(t, focus(t, a, "overview").Err)

	assert.Eventually(t, func() bool {
		locks, err := s.Collab.GetActiveLocks(context.Background(), entity.NewSession(alice), docId)
		return err == nil && len(locks) == 1 && locks[0].SectionId == "overview"
	}, waitFor, 5*time.Millisecond)

	snap, err := s.Collab.Snapshot(context.Background(), docId)
	require.NoError(t, err)
	assert.Equal(t, "first", snap.Version.Sections[0].Content)
}

func TestCloseReleasesEverything(t *testing.T) {
	s, docId := newStack(t, time.Minute)
	alice := uuid.New()
	a, err := collabclient.NewEditor(context.Background(), s.Backend(alice), docId, alice, collabclient.Options{
		Debounce: time.Hour,
		Logger:   collabclient.NopLogger(),
	})
	require.NoError(t, err)

	require.NoError(t, focus(t, a, "intro").Err)
	require.NoError(t, a.Edit("intro", "saved on close"))
	require.NoError(t, a.Close(context.Background()))

	snap, err := s.Collab.Snapshot(context.Background(), docId)
	require.NoError(t, err)
	assert.Equal(t, "saved on close", snap.Version.Sections[0].Content)
	assert.Empty(t, snap.Locks)

	assert.ErrorIs(t, a.Edit("intro", "late"), collabclient.ErrClosed)
}
