package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"section-collab-be/internal/entity"
	"section-collab-be/pkg/collaberr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDocument(t *testing.T, s *DocumentStore) uuid.UUID {
	t.Helper()
	doc := &entity.Document{Id: uuid.New(), ProjectId: uuid.New(), Name: "Proposal"}
	first := &entity.Version{
		AuthorId: uuid.New(),
		Sections: []entity.Section{{Id: "intro", Editable: true}, {Id: "overview", Editable: true}},
	}
	require.NoError(t, s.Create(context.Background(), doc, first))
	assert.Equal(t, 1, first.VersionNumber)
	assert.Equal(t, first.Id, *doc.CurrentVersionId)
	return doc.Id
}

func keep(tip *entity.Version) ([]entity.Section, error) {
	return tip.CloneSections(), nil
}

func TestAppendAssignsIncreasingNumbersUnderConcurrency(t *testing.T) {
	s := NewDocumentStore()
	docId := seedDocument(t, s)

	const writers = 50
	var wg sync.WaitGroup
	numbers := make(chan int, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.Append(context.Background(), docId, uuid.New(), keep)
			assert.NoError(t, err)
			numbers <- v.VersionNumber
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[int]bool)
	for n := range numbers {
		assert.False(t, seen[n], "duplicate version number %d", n)
		seen[n] = true
	}
	for n := 2; n <= writers+1; n++ {
		assert.True(t, seen[n], "missing version number %d", n)
	}

	all, err := s.FindAll(context.Background(), docId)
	require.NoError(t, err)
	require.Len(t, all, writers+1)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i-1].VersionNumber, all[i].VersionNumber)
	}

	current, err := s.FindCurrent(context.Background(), docId)
	require.NoError(t, err)
	assert.Equal(t, writers+1, current.VersionNumber)
}

func TestAppendBuilderSeesPreviousCommits(t *testing.T) {
	s := NewDocumentStore()
	docId := seedDocument(t, s)

	var wg sync.WaitGroup
	for _, id := range []string{"intro", "overview"} {
		wg.Add(1)
		go func(sectionId string) {
			defer wg.Done()
			_, err := s.Append(context.Background(), docId, uuid.New(), func(tip *entity.Version) ([]entity.Section, error) {
				sections := tip.CloneSections()
				for i := range sections {
					if sections[i].Id == sectionId {
						sections[i].Content = "edited " + sectionId
					}
				}
				return sections, nil
			})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	current, err := s.FindCurrent(context.Background(), docId)
	require.NoError(t, err)
	intro, _ := current.Section("intro")
	overview, _ := current.Section("overview")
	assert.Equal(t, "edited intro", intro.Content)
	assert.Equal(t, "edited overview", overview.Content)
}

func TestAppendUnknownDocument(t *testing.T) {
	s := NewDocumentStore()
	_, err := s.Append(context.Background(), uuid.New(), uuid.New(), keep)
	assert.True(t, errors.Is(err, collaberr.ErrNotFound))
}

func TestAppendBuilderErrorLeavesHistoryUntouched(t *testing.T) {
	s := NewDocumentStore()
	docId := seedDocument(t, s)

	boom := errors.New("boom")
	_, err := s.Append(context.Background(), docId, uuid.New(), func(*entity.Version) ([]entity.Section, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	all, err := s.FindAll(context.Background(), docId)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestReturnedVersionsAreCopies(t *testing.T) {
	s := NewDocumentStore()
	docId := seedDocument(t, s)

	v, err := s.FindCurrent(context.Background(), docId)
	require.NoError(t, err)
	v.Sections[0].Content = "mutated"

	again, err := s.FindByNumber(context.Background(), docId, 1)
	require.NoError(t, err)
	assert.Empty(t, again.Sections[0].Content)
}
