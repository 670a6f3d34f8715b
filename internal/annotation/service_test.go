package annotation

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"image-annotation-service/internal/access"
	"image-annotation-service/internal/element"
	"image-annotation-service/internal/errors"
	"image-annotation-service/internal/events"
	"image-annotation-service/internal/image"
)

// mock implementation of the Repository interface
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Insert(ctx context.Context, ann *Annotation) error {
	args := m.Called(ctx, ann)
	return args.Error(0)
}

func (m *MockRepository) Replace(ctx context.Context, ann *Annotation) error {
	args := m.Called(ctx, ann)
	return args.Error(0)
}

func (m *MockRepository) Get(ctx context.Context, id string) (*Annotation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Annotation), args.Error(1)
}

func (m *MockRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) SetActive(ctx context.Context, id string, active bool) error {
	args := m.Called(ctx, id, active)
	return args.Error(0)
}

func (m *MockRepository) SetGroups(ctx context.Context, id string, groups StringSet) error {
	args := m.Called(ctx, id, groups)
	return args.Error(0)
}

func (m *MockRepository) SetAccess(ctx context.Context, id string, policy *access.Policy, public bool) error {
	args := m.Called(ctx, id, policy, public)
	return args.Error(0)
}

func (m *MockRepository) Versions(ctx context.Context, stableID string) ([]*Annotation, error) {
	args := m.Called(ctx, stableID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Annotation), args.Error(1)
}

func (m *MockRepository) FindVersion(ctx context.Context, stableID string, version int64) (*Annotation, error) {
	args := m.Called(ctx, stableID, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Annotation), args.Error(1)
}

func (m *MockRepository) FindByItem(ctx context.Context, itemID string, activeOnly bool) ([]*Annotation, error) {
	args := m.Called(ctx, itemID, activeOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Annotation), args.Error(1)
}

func (m *MockRepository) FindActive(ctx context.Context, creatorID string) ([]*Annotation, error) {
	args := m.Called(ctx, creatorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Annotation), args.Error(1)
}

// mock implementation of the element.Store interface
type MockElementStore struct {
	mock.Mock
}

func (m *MockElementStore) GetElements(ctx context.Context, annotationID string, version int64, filter *element.Filter) ([]element.Element, error) {
	args := m.Called(ctx, annotationID, version, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]element.Element), args.Error(1)
}

func (m *MockElementStore) PutElements(ctx context.Context, annotationID string, version int64, elements []element.Element) error {
	args := m.Called(ctx, annotationID, version, elements)
	return args.Error(0)
}

func (m *MockElementStore) DeleteAll(ctx context.Context, annotationID string) error {
	args := m.Called(ctx, annotationID)
	return args.Error(0)
}

func (m *MockElementStore) DeleteVersionsBelow(ctx context.Context, annotationID string, version int64) error {
	args := m.Called(ctx, annotationID, version)
	return args.Error(0)
}

func (m *MockElementStore) GroupLabels(ctx context.Context, annotationID string, version int64) ([]string, error) {
	args := m.Called(ctx, annotationID, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// mock implementation of the Sequencer interface
type MockSequencer struct {
	mock.Mock
}

func (m *MockSequencer) NextVersion(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// mock implementation of the image.Provider interface
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) GetItem(ctx context.Context, id string) (*image.Item, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*image.Item), args.Error(1)
}

func (m *MockProvider) GetFolder(ctx context.Context, id string) (*image.Folder, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*image.Folder), args.Error(1)
}

type serviceFixture struct {
	repo     *MockRepository
	elements *MockElementStore
	seq      *MockSequencer
	items    *MockProvider
	bus      *events.Bus
	service  Service
}

func newFixture(history bool) *serviceFixture {
	f := &serviceFixture{
		repo:     new(MockRepository),
		elements: new(MockElementStore),
		seq:      new(MockSequencer),
		items:    new(MockProvider),
		bus:      events.NewBus(nil),
	}
	f.service = NewService(f.repo, f.elements, f.seq, f.items, f.bus, NewValidator(nil), nil, history)
	return f
}

const (
	headID = "aaaaaaaaaaaaaaaaaaaaaaaa"
	snapID = "bbbbbbbbbbbbbbbbbbbbbbbb"
	itemID = "cccccccccccccccccccccccc"
)

var hexID = regexp.MustCompile(`^[0-9a-f]{24}$`)

func TestSave_NewAnnotation(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()

	f.seq.On("NextVersion", mock.Anything).Return(int64(1), nil)
	f.elements.On("PutElements", mock.Anything, mock.MatchedBy(func(id string) bool {
		return hexID.MatchString(id)
	}), int64(1), mock.Anything).Return(nil)
	f.repo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.elements.On("GroupLabels", mock.Anything, mock.Anything, int64(1)).Return([]string{"tumor"}, nil)
	f.repo.On("SetGroups", mock.Anything, mock.Anything, StringSet{"tumor"}).Return(nil)

	ann := &Annotation{Name: "cells", Elements: []element.Element{validCircle()}}
	saved, err := f.service.Save(ctx, ann)

	assert.NoError(t, err)
	assert.Regexp(t, hexID, saved.ID)
	assert.Equal(t, int64(1), saved.Version)
	assert.True(t, saved.Active)
	assert.Equal(t, StringSet{"tumor"}, saved.Groups)
	f.repo.AssertExpectations(t)
	f.elements.AssertExpectations(t)
}

func TestSave_ReplaceArchivesPreviousVersion(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()

	stored := &Annotation{ID: headID, Version: 5, Active: true, Name: "cells", Groups: StringSet{}}
	f.repo.On("Get", mock.Anything, headID).Return(stored, nil)
	f.seq.On("NextVersion", mock.Anything).Return(int64(6), nil)
	f.elements.On("PutElements", mock.Anything, headID, int64(6), mock.Anything).Return(nil)

	var archived *Annotation
	f.repo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		archived = args.Get(1).(*Annotation)
	})
	f.repo.On("Replace", mock.Anything, mock.MatchedBy(func(a *Annotation) bool {
		return a.ID == headID && a.Version == 6 && a.Active
	})).Return(nil)

	ann := &Annotation{ID: headID, Name: "cells", Groups: StringSet{}, Elements: []element.Element{validCircle()}}
	saved, err := f.service.Save(ctx, ann)

	assert.NoError(t, err)
	assert.Equal(t, int64(6), saved.Version)

	// The archive keeps the old content under a fresh physical id
	assert.NotNil(t, archived)
	assert.NotEqual(t, headID, archived.ID)
	assert.Regexp(t, hexID, archived.ID)
	assert.Equal(t, headID, archived.HeadID)
	assert.Equal(t, int64(5), archived.Version)
	assert.False(t, archived.Active)
	f.repo.AssertExpectations(t)
}

func TestSave_HistoryDisabledCollectsOldElements(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()

	stored := &Annotation{ID: headID, Version: 5, Active: true, Name: "cells", Groups: StringSet{}}
	f.repo.On("Get", mock.Anything, headID).Return(stored, nil)
	f.seq.On("NextVersion", mock.Anything).Return(int64(6), nil)
	f.elements.On("PutElements", mock.Anything, headID, int64(6), mock.Anything).Return(nil)
	f.repo.On("Replace", mock.Anything, mock.Anything).Return(nil)
	f.elements.On("DeleteVersionsBelow", mock.Anything, headID, int64(5)).Return(nil)

	ann := &Annotation{ID: headID, Name: "cells", Groups: StringSet{}, Elements: []element.Element{validCircle()}}
	_, err := f.service.Save(ctx, ann)

	assert.NoError(t, err)
	f.repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	f.elements.AssertExpectations(t)
}

func TestSave_SavingArchivedSnapshotTargetsHead(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()

	stored := &Annotation{ID: headID, Version: 5, Active: true, Name: "cells", Groups: StringSet{}}
	f.repo.On("Get", mock.Anything, headID).Return(stored, nil)
	f.seq.On("NextVersion", mock.Anything).Return(int64(6), nil)
	f.elements.On("PutElements", mock.Anything, headID, int64(6), mock.Anything).Return(nil)
	f.repo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.repo.On("Replace", mock.Anything, mock.Anything).Return(nil)

	ann := &Annotation{ID: snapID, HeadID: headID, Version: 3, Name: "cells", Groups: StringSet{}, Elements: []element.Element{validCircle()}}
	saved, err := f.service.Save(ctx, ann)

	assert.NoError(t, err)
	assert.Equal(t, headID, saved.ID)
	assert.Empty(t, saved.HeadID)
	assert.Equal(t, int64(6), saved.Version)
}

func TestSave_ValidationFailureWritesNothing(t *testing.T) {
	f := newFixture(true)

	_, err := f.service.Save(context.Background(), &Annotation{Name: ""})

	assert.True(t, errors.IsValidation(err))
	f.seq.AssertNotCalled(t, "NextVersion", mock.Anything)
	f.elements.AssertNotCalled(t, "PutElements", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLoad_Missing(t *testing.T) {
	f := newFixture(true)
	f.repo.On("Get", mock.Anything, headID).Return(nil, nil)

	ann, err := f.service.Load(context.Background(), headID, nil, false, nil, access.READ, false)

	assert.NoError(t, err)
	assert.Nil(t, ann)
}

func TestLoad_AccessDenied(t *testing.T) {
	f := newFixture(true)
	stored := &Annotation{ID: headID, Version: 5, Active: true, Access: &access.Policy{}, Groups: StringSet{}}
	f.repo.On("Get", mock.Anything, headID).Return(stored, nil)

	_, err := f.service.Load(context.Background(), headID, nil, false, &access.User{ID: "u1"}, access.READ, false)

	assert.True(t, errors.IsAuthorization(err))
}

func TestLoad_RetriesWhenConcurrentSaveMovesVersion(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()

	v5 := &Annotation{ID: headID, Version: 5, Active: true, Access: &access.Policy{}, Groups: StringSet{}}
	v6 := &Annotation{ID: headID, Version: 6, Active: true, Groups: StringSet{}}
	f.repo.On("Get", mock.Anything, headID).Return(v5, nil).Once()
	f.repo.On("Get", mock.Anything, headID).Return(v6, nil).Once()
	f.elements.On("GetElements", mock.Anything, headID, int64(5), (*element.Filter)(nil)).Return([]element.Element{}, nil)
	f.elements.On("GetElements", mock.Anything, headID, int64(6), (*element.Filter)(nil)).Return([]element.Element{validCircle()}, nil)

	ann, err := f.service.Load(ctx, headID, nil, true, nil, access.READ, true)

	assert.NoError(t, err)
	assert.Equal(t, int64(6), ann.Version)
	assert.Len(t, ann.Elements, 1)
}

func TestLoad_EmptyElementsWithStableVersionIsTrusted(t *testing.T) {
	f := newFixture(true)
	stored := &Annotation{ID: headID, Version: 5, Active: true, Access: &access.Policy{}, Groups: StringSet{}}
	f.repo.On("Get", mock.Anything, headID).Return(stored, nil)
	f.elements.On("GetElements", mock.Anything, headID, int64(5), (*element.Filter)(nil)).Return([]element.Element{}, nil)

	ann, err := f.service.Load(context.Background(), headID, nil, true, nil, access.READ, true)

	assert.NoError(t, err)
	assert.Empty(t, ann.Elements)
	f.elements.AssertNumberOfCalls(t, "GetElements", 1)
}

func TestRemove_HistoryKeepsRecord(t *testing.T) {
	f := newFixture(true)
	f.repo.On("SetActive", mock.Anything, headID, false).Return(nil)

	ann := &Annotation{ID: headID, Active: true}
	err := f.service.Remove(context.Background(), ann)

	assert.NoError(t, err)
	assert.False(t, ann.Active)
	f.repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	f.elements.AssertNotCalled(t, "DeleteAll", mock.Anything, mock.Anything)
}

func TestRemove_HardDeleteFiresObserversOnce(t *testing.T) {
	f := newFixture(false)
	before, after := 0, 0
	f.bus.Bind(events.AnnotationRemoveBefore, func(ctx context.Context, name string, info events.Info) { before++ })
	f.bus.Bind(events.AnnotationRemoveAfter, func(ctx context.Context, name string, info events.Info) { after++ })
	f.repo.On("Delete", mock.Anything, headID).Return(nil)
	f.elements.On("DeleteAll", mock.Anything, headID).Return(nil)

	err := f.service.Remove(context.Background(), &Annotation{ID: headID, ItemID: itemID})

	assert.NoError(t, err)
	assert.Equal(t, 1, before)
	assert.Equal(t, 1, after)
	f.repo.AssertExpectations(t)
	f.elements.AssertExpectations(t)
}

func TestCreate_DerivesAccessFromFolder(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()

	folderPolicy := &access.Policy{}
	folderPolicy.SetUserAccess("viewer", access.READ)
	folder := &image.Folder{ID: "f1", Public: true, Access: folderPolicy}
	item := &image.Item{ID: itemID, FolderID: "f1"}
	creator := &access.User{ID: "u1"}

	f.items.On("GetFolder", mock.Anything, "f1").Return(folder, nil)
	f.seq.On("NextVersion", mock.Anything).Return(int64(1), nil)
	f.repo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.elements.On("GroupLabels", mock.Anything, mock.Anything, int64(1)).Return([]string{}, nil)
	f.repo.On("SetGroups", mock.Anything, mock.Anything, StringSet{}).Return(nil)

	pub := false
	saved, err := f.service.Create(ctx, item, creator, &Annotation{Name: "cells"}, &pub)

	assert.NoError(t, err)
	assert.Equal(t, itemID, saved.ItemID)
	assert.Equal(t, "u1", saved.CreatorID)
	assert.False(t, saved.Public) // explicit override beats the folder
	assert.Equal(t, access.ADMIN, saved.Access.UserLevel(&access.User{ID: "u1"}))
	assert.Equal(t, access.READ, saved.Access.UserLevel(&access.User{ID: "viewer"}))
	// The folder's own policy must not gain the creator grant
	assert.Equal(t, access.Level(-1), folderPolicy.UserLevel(&access.User{ID: "u1"}))
}

func TestVersionList_FiltersByAccess(t *testing.T) {
	f := newFixture(true)
	entries := []*Annotation{
		{ID: headID, Version: 10, Active: true, Public: true},
		{ID: snapID, HeadID: headID, Version: 9, Access: &access.Policy{}},
	}
	f.repo.On("Versions", mock.Anything, headID).Return(entries, nil)

	versions, err := f.service.VersionList(context.Background(), headID, &access.User{ID: "u1"}, 0, 0, false)

	assert.NoError(t, err)
	assert.Len(t, versions, 1)
	assert.Equal(t, int64(10), versions[0].Version)
}

func TestVersionList_ForceReturnsEverything(t *testing.T) {
	f := newFixture(true)
	entries := []*Annotation{
		{ID: headID, Version: 10, Active: true},
		{ID: snapID, HeadID: headID, Version: 9},
	}
	f.repo.On("Versions", mock.Anything, headID).Return(entries, nil)

	versions, err := f.service.VersionList(context.Background(), headID, nil, 1, 1, true)

	assert.NoError(t, err)
	assert.Len(t, versions, 1)
	assert.Equal(t, int64(9), versions[0].Version)
}

func TestLoad_RetryBoundStopsAfterThreeAttempts(t *testing.T) {
	f := newFixture(true)

	// The version moves on every recheck and the elements stay empty; the
	// loop must give up after three fetches and return the latest result.
	v5 := &Annotation{ID: headID, Version: 5, Active: true, Access: &access.Policy{}, Groups: StringSet{}}
	v6 := &Annotation{ID: headID, Version: 6, Active: true, Access: &access.Policy{}, Groups: StringSet{}}
	v7 := &Annotation{ID: headID, Version: 7, Active: true, Access: &access.Policy{}, Groups: StringSet{}}
	f.repo.On("Get", mock.Anything, headID).Return(v5, nil).Once()
	f.repo.On("Get", mock.Anything, headID).Return(v6, nil).Once()
	f.repo.On("Get", mock.Anything, headID).Return(v7, nil).Once()
	f.elements.On("GetElements", mock.Anything, headID, int64(5), (*element.Filter)(nil)).Return([]element.Element{}, nil)
	f.elements.On("GetElements", mock.Anything, headID, int64(6), (*element.Filter)(nil)).Return([]element.Element{}, nil)
	f.elements.On("GetElements", mock.Anything, headID, int64(7), (*element.Filter)(nil)).Return([]element.Element{}, nil)

	ann, err := f.service.Load(context.Background(), headID, nil, true, nil, access.READ, true)

	assert.NoError(t, err)
	assert.Equal(t, int64(7), ann.Version)
	assert.Empty(t, ann.Elements)
	f.elements.AssertNumberOfCalls(t, "GetElements", 3)
}

func TestLoad_RetryKeepsFreshlyStoredPolicy(t *testing.T) {
	f := newFixture(true)

	second := &access.Policy{}
	second.SetUserAccess("u2", access.READ)
	v5 := &Annotation{ID: headID, Version: 5, Active: true, Access: &access.Policy{}, Groups: StringSet{}}
	v6 := &Annotation{ID: headID, Version: 6, Active: true, Access: second, Groups: StringSet{}}
	f.repo.On("Get", mock.Anything, headID).Return(v5, nil).Once()
	f.repo.On("Get", mock.Anything, headID).Return(v6, nil).Once()
	f.elements.On("GetElements", mock.Anything, headID, int64(5), (*element.Filter)(nil)).Return([]element.Element{}, nil)
	f.elements.On("GetElements", mock.Anything, headID, int64(6), (*element.Filter)(nil)).Return([]element.Element{validCircle()}, nil)

	ann, err := f.service.Load(context.Background(), headID, nil, true, nil, access.READ, true)

	assert.NoError(t, err)
	assert.Equal(t, access.READ, ann.Access.UserLevel(&access.User{ID: "u2"}))
}

func TestGetVersion_ArchivedSnapshotReadsHeadElements(t *testing.T) {
	f := newFixture(true)

	// Element rows only ever exist under the stable id; the archive's own
	// physical id has none.
	snapshot := &Annotation{ID: snapID, HeadID: headID, Version: 9, Name: "cells", Access: &access.Policy{}}
	f.repo.On("FindVersion", mock.Anything, headID, int64(9)).Return(snapshot, nil)
	f.repo.On("Get", mock.Anything, snapID).Return(snapshot, nil)
	f.elements.On("GetElements", mock.Anything, headID, int64(9), (*element.Filter)(nil)).Return([]element.Element{validCircle()}, nil)
	f.elements.On("GroupLabels", mock.Anything, headID, int64(9)).Return([]string{"tumor"}, nil)
	f.repo.On("SetGroups", mock.Anything, snapID, StringSet{"tumor"}).Return(nil)

	ann, err := f.service.GetVersion(context.Background(), headID, 9, nil, true)

	assert.NoError(t, err)
	assert.Len(t, ann.Elements, 1)
	assert.Equal(t, StringSet{"tumor"}, ann.Groups)
	f.elements.AssertExpectations(t)
}

func TestGetVersion_Missing(t *testing.T) {
	f := newFixture(true)
	f.repo.On("FindVersion", mock.Anything, headID, int64(4)).Return(nil, nil)

	ann, err := f.service.GetVersion(context.Background(), headID, 4, nil, true)

	assert.NoError(t, err)
	assert.Nil(t, ann)
}

func TestRevertVersion_DefaultPicksPreviousVersion(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()

	head := &Annotation{ID: headID, Version: 10, Active: true, Name: "cells", Access: &access.Policy{}, Groups: StringSet{}}
	snapshot := &Annotation{ID: snapID, HeadID: headID, Version: 9, Name: "cells", Access: &access.Policy{}, Groups: StringSet{}}
	els := []element.Element{validCircle()}

	f.repo.On("Versions", mock.Anything, headID).Return([]*Annotation{head, snapshot}, nil)
	f.repo.On("FindVersion", mock.Anything, headID, int64(9)).Return(snapshot, nil)
	f.repo.On("Get", mock.Anything, snapID).Return(snapshot, nil)
	// Element rows are keyed by the stable id, never the archive's own id
	f.elements.On("GetElements", mock.Anything, headID, int64(9), (*element.Filter)(nil)).Return(els, nil)

	// The re-save swaps the snapshot content back in under the stable id
	f.seq.On("NextVersion", mock.Anything).Return(int64(11), nil)
	f.repo.On("Get", mock.Anything, headID).Return(head, nil)
	f.elements.On("PutElements", mock.Anything, headID, int64(11), els).Return(nil)
	f.repo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.repo.On("Replace", mock.Anything, mock.Anything).Return(nil)

	reverted, err := f.service.RevertVersion(ctx, headID, nil, nil, true)

	assert.NoError(t, err)
	assert.Equal(t, headID, reverted.ID)
	assert.Equal(t, int64(11), reverted.Version)
	assert.True(t, reverted.Active)
	f.repo.AssertExpectations(t)
}

func TestRevertVersion_SoftDeletedHeadRestoresItself(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()

	head := &Annotation{ID: headID, Version: 10, Active: false, Name: "cells", Access: &access.Policy{}, Groups: StringSet{}}
	els := []element.Element{validCircle()}

	f.repo.On("Versions", mock.Anything, headID).Return([]*Annotation{head}, nil)
	f.repo.On("FindVersion", mock.Anything, headID, int64(10)).Return(head, nil)
	f.repo.On("Get", mock.Anything, headID).Return(head, nil)
	f.elements.On("GetElements", mock.Anything, headID, int64(10), (*element.Filter)(nil)).Return(els, nil)

	f.seq.On("NextVersion", mock.Anything).Return(int64(11), nil)
	f.elements.On("PutElements", mock.Anything, headID, int64(11), els).Return(nil)
	f.repo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.repo.On("Replace", mock.Anything, mock.Anything).Return(nil)

	reverted, err := f.service.RevertVersion(ctx, headID, nil, nil, true)

	assert.NoError(t, err)
	assert.Equal(t, int64(11), reverted.Version)
	assert.True(t, reverted.Active)
}

func TestRevertVersion_NothingToRevert(t *testing.T) {
	f := newFixture(true)
	head := &Annotation{ID: headID, Version: 10, Active: true}
	f.repo.On("Versions", mock.Anything, headID).Return([]*Annotation{head}, nil)

	reverted, err := f.service.RevertVersion(context.Background(), headID, nil, nil, true)

	assert.NoError(t, err)
	assert.Nil(t, reverted)
}

func TestRemoveItemAnnotations_History(t *testing.T) {
	f := newFixture(true)
	entries := []*Annotation{
		{ID: headID, ItemID: itemID, Active: true},
		{ID: snapID, ItemID: itemID, Active: true},
	}
	f.repo.On("FindByItem", mock.Anything, itemID, false).Return(entries, nil)
	f.repo.On("SetActive", mock.Anything, headID, false).Return(nil)
	f.repo.On("SetActive", mock.Anything, snapID, false).Return(nil)

	err := f.service.RemoveItemAnnotations(context.Background(), itemID)

	assert.NoError(t, err)
	f.repo.AssertExpectations(t)
}

func TestFindAnnotatedImages_DeduplicatesItems(t *testing.T) {
	f := newFixture(true)
	entries := []*Annotation{
		{ID: "111111111111111111111111", ItemID: itemID, Active: true},
		{ID: "222222222222222222222222", ItemID: itemID, Active: true},
		{ID: "333333333333333333333333", ItemID: "dddddddddddddddddddddddd", Active: true},
	}
	f.repo.On("FindActive", mock.Anything, "").Return(entries, nil)
	f.items.On("GetItem", mock.Anything, itemID).Return(&image.Item{ID: itemID, Name: "slide_001.svs"}, nil)
	f.items.On("GetItem", mock.Anything, "dddddddddddddddddddddddd").Return(nil, nil)

	admin := &access.User{ID: "root", Admin: true}
	images, err := f.service.FindAnnotatedImages(context.Background(), "", "", admin, 0, 0)

	assert.NoError(t, err)
	assert.Len(t, images, 1)
	assert.Equal(t, itemID, images[0].ID)
	f.items.AssertNumberOfCalls(t, "GetItem", 2)
}

func TestMatchImageName(t *testing.T) {
	assert.True(t, matchImageName("Slide_001.svs", "slide"))
	assert.True(t, matchImageName("slide_001.svs", "001"))
	assert.True(t, matchImageName("slide_001.svs", ""))
	assert.False(t, matchImageName("slide_001.svs", "tumor"))
}
