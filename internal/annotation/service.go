package annotation

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"image-annotation-service/internal/access"
	"image-annotation-service/internal/element"
	"image-annotation-service/internal/events"
	"image-annotation-service/internal/image"
	"image-annotation-service/internal/logger"
	"image-annotation-service/internal/metrics"
)

// loadMaxRetries bounds the re-read loop that absorbs the transient
// window where a concurrent save has not finished swapping the head
const loadMaxRetries = 3

// Sequencer issues durable, strictly increasing version numbers
type Sequencer interface {
	NextVersion(ctx context.Context) (int64, error)
}

// Service is the annotation store: create/load/save/remove plus the
// version-history surface.
type Service interface {
	Create(ctx context.Context, item *image.Item, creator *access.User, ann *Annotation, public *bool) (*Annotation, error)
	Load(ctx context.Context, id string, region *element.Filter, withElements bool, user *access.User, level access.Level, force bool) (*Annotation, error)
	Save(ctx context.Context, ann *Annotation) (*Annotation, error)
	Update(ctx context.Context, ann *Annotation, updater *access.User) (*Annotation, error)
	Remove(ctx context.Context, ann *Annotation) error
	VersionList(ctx context.Context, stableID string, user *access.User, limit, offset int, force bool) ([]*Annotation, error)
	GetVersion(ctx context.Context, stableID string, version int64, user *access.User, force bool) (*Annotation, error)
	RevertVersion(ctx context.Context, stableID string, version *int64, user *access.User, force bool) (*Annotation, error)
	RemoveItemAnnotations(ctx context.Context, itemID string) error
	CopyItemAnnotations(ctx context.Context, srcItemID string, dest *image.Item) error
	FindAnnotatedImages(ctx context.Context, nameFilter, creatorID string, user *access.User, limit, offset int) ([]*image.Item, error)
	SetHistoryEnabled(enabled bool)
}

type DefaultService struct {
	repo      Repository
	elements  element.Store
	seq       Sequencer
	items     image.Provider
	bus       *events.Bus
	validator *Validator
	metrics   *metrics.Metrics
	log       *logger.Logger

	historyMu sync.RWMutex
	history   bool

	// writeLock serializes the interleaved element/metadata steps of
	// save and remove inside this process.  Cross-process races are
	// handled by the version-check-and-retry protocol in Load, never by
	// this lock.
	writeLock sync.Mutex
}

func NewService(
	repo Repository,
	elements element.Store,
	seq Sequencer,
	items image.Provider,
	bus *events.Bus,
	validator *Validator,
	m *metrics.Metrics,
	historyEnabled bool,
) Service {
	return &DefaultService{
		repo:      repo,
		elements:  elements,
		seq:       seq,
		items:     items,
		bus:       bus,
		validator: validator,
		metrics:   m,
		log:       logger.GetGlobalLogger().WithComponent("annotations"),
		history:   historyEnabled,
	}
}

// SetHistoryEnabled toggles soft-delete history at runtime
func (s *DefaultService) SetHistoryEnabled(enabled bool) {
	s.historyMu.Lock()
	s.history = enabled
	s.historyMu.Unlock()
}

func (s *DefaultService) historyEnabled() bool {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()
	return s.history
}

// Create builds version 1 of a new annotation.  The access policy is
// copied from the folder containing the image and the creator is granted
// admin rights.
func (s *DefaultService) Create(ctx context.Context, item *image.Item, creator *access.User, ann *Annotation, public *bool) (*Annotation, error) {
	now := time.Now().UTC()
	ann.ID = ""
	ann.HeadID = ""
	ann.ItemID = item.ID
	ann.CreatorID = creator.ID
	ann.UpdatedID = creator.ID
	ann.CreatedAt = now
	ann.UpdatedAt = now

	folder, err := s.items.GetFolder(ctx, item.FolderID)
	if err != nil {
		return nil, err
	}
	policy := &access.Policy{}
	isPublic := false
	if folder != nil {
		if copied := folder.Access.Copy(); copied != nil {
			policy = copied
		}
		isPublic = folder.Public
	}
	if public != nil {
		isPublic = *public
	}
	policy.SetUserAccess(creator.ID, access.ADMIN)
	ann.Access = policy
	ann.Public = isPublic

	return s.Save(ctx, ann)
}

// Load resolves an annotation by id, returning nil when it does not
// exist.  With withElements, elements matching the region filter are
// attached; an empty read is re-checked against the stored version and
// retried a bounded number of times to absorb concurrent saves.
func (s *DefaultService) Load(ctx context.Context, id string, region *element.Filter, withElements bool, user *access.User, level access.Level, force bool) (*Annotation, error) {
	ann, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ann == nil {
		return nil, nil
	}

	// Records created before annotations were access controlled get a
	// policy backfilled from the image's folder, once.
	if ann.Access == nil {
		s.backfillAccess(ctx, ann)
	}
	if !force {
		if err := access.RequireAccess(ann, user, level); err != nil {
			return nil, err
		}
	}

	if withElements {
		// Element rows live under the stable id; archived snapshots
		// share the head's rows and only differ by version.
		//
		// A concurrent save may have replaced the elements between our
		// read of the record and the element fetch.  An empty result is
		// only trusted when the stored version has not moved.
		for retry := 0; retry < loadMaxRetries; retry++ {
			els, err := s.elements.GetElements(ctx, ann.StableID(), ann.Version, region)
			if err != nil {
				return nil, err
			}
			ann.Elements = els
			if len(els) > 0 || retry+1 == loadMaxRetries {
				break
			}
			recheck, err := s.repo.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if recheck == nil || recheck.Version == ann.Version {
				break
			}
			if recheck.Access == nil {
				s.backfillAccess(ctx, recheck)
			}
			ann = recheck
		}
	}

	if err := s.injectGroupSet(ctx, ann); err != nil {
		return nil, err
	}
	return ann, nil
}

// Save persists an annotation as a new version.  Elements are written
// first, then the metadata record is inserted or swapped, so that a
// concurrent reader never observes a permanently inconsistent state.
func (s *DefaultService) Save(ctx context.Context, ann *Annotation) (*Annotation, error) {
	start := time.Now()
	if err := s.validator.Validate(ann); err != nil {
		s.metrics.RecordOperation("save", "invalid", time.Since(start))
		return nil, err
	}

	version, err := s.seq.NextVersion(ctx)
	if err != nil {
		return nil, err
	}

	// Re-saving an archived snapshot targets its head's stable id
	if ann.HeadID != "" {
		ann.ID = ann.HeadID
		ann.HeadID = ""
	}

	insert := ann.ID == ""
	var oldVersion int64
	var stored *Annotation
	if !insert {
		// Read the currently stored version directly; a version number
		// carried on the input could be stale or tampered with.
		stored, err = s.repo.Get(ctx, ann.ID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			insert = true
		} else {
			oldVersion = stored.Version
		}
	}

	ann.Version = version
	ann.Active = true
	history := s.historyEnabled()

	s.writeLock.Lock()
	err = func() error {
		if insert {
			if ann.ID == "" {
				ann.ID = element.NewID()
			}
			if ann.Elements != nil {
				if err := s.elements.PutElements(ctx, ann.ID, version, ann.Elements); err != nil {
					return err
				}
			}
			return s.repo.Insert(ctx, ann)
		}

		if ann.Elements != nil {
			if err := s.elements.PutElements(ctx, ann.ID, version, ann.Elements); err != nil {
				return err
			}
		}
		if history {
			// Archive the pre-write record under a fresh physical id,
			// freeing the stable id for the incoming write
			archived := *stored
			archived.ID = element.NewID()
			archived.HeadID = stored.ID
			archived.Active = false
			if err := s.repo.Insert(ctx, &archived); err != nil {
				return err
			}
		}
		if err := s.repo.Replace(ctx, ann); err != nil {
			return err
		}
		if !history {
			// Best-effort garbage collection; the replace above already
			// committed and is never rolled back.
			if err := s.elements.DeleteVersionsBelow(ctx, ann.ID, oldVersion); err != nil {
				s.log.Warn().Err(err).Str("id", ann.ID).Int64("below", oldVersion).
					Msg("Failed to garbage-collect old elements")
			}
		}
		return nil
	}()
	s.writeLock.Unlock()
	if err != nil {
		s.metrics.RecordOperation("save", "error", time.Since(start))
		return nil, err
	}

	if err := s.injectGroupSet(ctx, ann); err != nil {
		return nil, err
	}

	s.metrics.RecordOperation("save", "ok", time.Since(start))
	s.log.Debug().Str("id", ann.ID).Int64("version", version).
		Dur("duration", time.Since(start)).Msg("Saved annotation")

	info := events.Info{"id": ann.ID, "version": version, "groups": ann.Groups}
	s.bus.Trigger(ctx, events.AnnotationSave, info)
	s.bus.TriggerAsync(events.AnnotationSaveHistory, info)
	return ann, nil
}

// Update stamps the updater and saves
func (s *DefaultService) Update(ctx context.Context, ann *Annotation, updater *access.User) (*Annotation, error) {
	ann.UpdatedAt = time.Now().UTC()
	if updater != nil {
		ann.UpdatedID = updater.ID
	} else {
		ann.UpdatedID = ""
	}
	return s.Save(ctx, ann)
}

// Remove deletes an annotation.  With history enabled the head is only
// marked inactive; otherwise the record and all of its elements are
// hard-deleted, with removal observers firing exactly once around the
// combined operation.
func (s *DefaultService) Remove(ctx context.Context, ann *Annotation) error {
	start := time.Now()
	if s.historyEnabled() {
		if err := s.repo.SetActive(ctx, ann.ID, false); err != nil {
			return err
		}
		ann.Active = false
		s.metrics.RecordOperation("remove", "ok", time.Since(start))
		return nil
	}

	info := events.Info{"id": ann.ID, "itemId": ann.ItemID}
	s.bus.Trigger(ctx, events.AnnotationRemoveBefore, info)

	s.writeLock.Lock()
	err := s.repo.Delete(ctx, ann.ID)
	if err == nil {
		err = s.elements.DeleteAll(ctx, ann.ID)
	}
	s.writeLock.Unlock()
	if err != nil {
		s.metrics.RecordOperation("remove", "error", time.Since(start))
		return err
	}

	s.bus.Trigger(ctx, events.AnnotationRemoveAfter, info)
	s.metrics.RecordOperation("remove", "ok", time.Since(start))
	return nil
}

// VersionList returns one record per version for stableID, newest first,
// restricted to records the caller may read unless forced
func (s *DefaultService) VersionList(ctx context.Context, stableID string, user *access.User, limit, offset int, force bool) ([]*Annotation, error) {
	if s.metrics != nil {
		s.metrics.VersionQueriesTotal.Inc()
	}
	entries, err := s.repo.Versions(ctx, stableID)
	if err != nil {
		return nil, err
	}

	result := make([]*Annotation, 0, len(entries))
	skipped := 0
	for _, entry := range entries {
		if !force && !access.HasAccess(entry, user, access.READ) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// GetVersion resolves the one snapshot matching stableID and version,
// head or archived, returning nil when absent
func (s *DefaultService) GetVersion(ctx context.Context, stableID string, version int64, user *access.User, force bool) (*Annotation, error) {
	entry, err := s.repo.FindVersion(ctx, stableID, version)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	return s.Load(ctx, entry.ID, nil, true, user, access.READ, force)
}

// RevertVersion re-saves a prior snapshot as a brand-new version.  With
// no version given it targets the head's own version when the head is
// soft-deleted, the second-most-recent version otherwise.
func (s *DefaultService) RevertVersion(ctx context.Context, stableID string, version *int64, user *access.User, force bool) (*Annotation, error) {
	if version == nil {
		versions, err := s.VersionList(ctx, stableID, nil, 2, 0, true)
		if err != nil {
			return nil, err
		}
		switch {
		case len(versions) >= 1 && !versions[0].Active:
			version = &versions[0].Version
		case len(versions) >= 2:
			version = &versions[1].Version
		default:
			return nil, nil
		}
	}

	ann, err := s.GetVersion(ctx, stableID, *version, user, force)
	if err != nil || ann == nil {
		return ann, err
	}
	// The active head is already this content; nothing to revert
	if ann.Active {
		return ann, nil
	}
	if !force {
		if err := access.RequireAccess(ann, user, access.WRITE); err != nil {
			return nil, err
		}
	}
	if s.metrics != nil {
		s.metrics.RevertsTotal.Inc()
	}
	return s.Update(ctx, ann, user)
}

// RemoveItemAnnotations removes every annotation attached to an image
// item, honoring the history setting
func (s *DefaultService) RemoveItemAnnotations(ctx context.Context, itemID string) error {
	entries, err := s.repo.FindByItem(ctx, itemID, false)
	if err != nil {
		return err
	}
	history := s.historyEnabled()
	for _, entry := range entries {
		if history {
			if err := s.repo.SetActive(ctx, entry.ID, false); err != nil {
				return err
			}
			continue
		}
		if err := s.Remove(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// CopyItemAnnotations copies every active annotation from one image item
// to another, re-deriving the access policy from the destination folder
func (s *DefaultService) CopyItemAnnotations(ctx context.Context, srcItemID string, dest *image.Item) error {
	entries, err := s.repo.FindByItem(ctx, srcItemID, true)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	folder, err := s.items.GetFolder(ctx, dest.FolderID)
	if err != nil {
		return err
	}

	copied := 0
	for _, entry := range entries {
		// Reload with elements; the annotation could have been removed
		// while we are copying the others
		full, err := s.Load(ctx, entry.ID, nil, true, nil, access.READ, true)
		if err != nil {
			return err
		}
		if full == nil {
			continue
		}
		full.ID = ""
		full.HeadID = ""
		full.ItemID = dest.ID
		full.Groups = nil

		policy := &access.Policy{}
		full.Public = false
		if folder != nil {
			if copiedPolicy := folder.Access.Copy(); copiedPolicy != nil {
				policy = copiedPolicy
			}
			full.Public = folder.Public
		}
		policy.SetUserAccess(full.CreatorID, access.ADMIN)
		full.Access = policy

		if _, err := s.Save(ctx, full); err != nil {
			return err
		}
		copied++
	}
	s.log.Info().Int("count", copied).Str("from", srcItemID).Str("to", dest.ID).
		Msg("Copied annotations between items")
	return nil
}

var nameTokenPattern = regexp.MustCompile(`[\W_]+`)

// FindAnnotatedImages returns the distinct images carrying active
// annotations, filtered by name and creator and checked for read access
// on the containing folder
func (s *DefaultService) FindAnnotatedImages(ctx context.Context, nameFilter, creatorID string, user *access.User, limit, offset int) ([]*image.Item, error) {
	entries, err := s.repo.FindActive(ctx, creatorID)
	if err != nil {
		return nil, err
	}

	images := make([]*image.Item, 0)
	seen := make(map[string]bool)
	for _, entry := range entries {
		if seen[entry.ItemID] {
			continue
		}
		item, err := s.items.GetItem(ctx, entry.ItemID)
		if err != nil {
			return nil, err
		}
		// ignore if no such item exists
		if item == nil {
			continue
		}
		if !s.itemReadable(ctx, item, user) {
			continue
		}
		if !matchImageName(item.Name, nameFilter) {
			continue
		}
		if len(seen) >= offset {
			images = append(images, item)
		}
		seen[item.ID] = true
		if limit > 0 && len(images) == limit {
			break
		}
	}
	return images, nil
}

func (s *DefaultService) itemReadable(ctx context.Context, item *image.Item, user *access.User) bool {
	if user != nil && user.Admin {
		return true
	}
	folder, err := s.items.GetFolder(ctx, item.FolderID)
	if err != nil || folder == nil {
		return false
	}
	return access.HasAccess(folder, user, access.READ)
}

// matchImageName reports whether the image name, or one of its [\W_]+
// separated sub-tokens, begins with the filter, case-insensitively
func matchImageName(imageName, matchString string) bool {
	matchString = strings.ToLower(matchString)
	imageName = strings.ToLower(imageName)
	if strings.HasPrefix(imageName, matchString) {
		return true
	}
	for _, token := range nameTokenPattern.Split(imageName, -1) {
		if strings.HasPrefix(token, matchString) {
			return true
		}
	}
	return false
}

// injectGroupSet recomputes and persists the cached group-label set when
// the record does not carry one
func (s *DefaultService) injectGroupSet(ctx context.Context, ann *Annotation) error {
	if ann.Groups != nil {
		return nil
	}
	labels, err := s.elements.GroupLabels(ctx, ann.StableID(), ann.Version)
	if err != nil {
		return err
	}
	ann.Groups = StringSet(labels)
	return s.repo.SetGroups(ctx, ann.ID, ann.Groups)
}

// backfillAccess copies an access policy from the image's folder onto a
// record that predates access control, and persists it once.  Failures
// only log; the record is still usable without a policy.
func (s *DefaultService) backfillAccess(ctx context.Context, ann *Annotation) {
	item, err := s.items.GetItem(ctx, ann.ItemID)
	if err != nil || item == nil {
		s.log.Warn().Str("id", ann.ID).Str("itemId", ann.ItemID).
			Msg("Could not backfill annotation access policy, missing item")
		return
	}
	folder, err := s.items.GetFolder(ctx, item.FolderID)
	if err != nil || folder == nil {
		s.log.Warn().Str("id", ann.ID).Str("folderId", item.FolderID).
			Msg("Could not backfill annotation access policy, missing folder")
		return
	}

	policy := &access.Policy{}
	if copied := folder.Access.Copy(); copied != nil {
		policy = copied
	}
	policy.SetUserAccess(ann.CreatorID, access.ADMIN)
	ann.Access = policy
	ann.Public = folder.Public

	if err := s.repo.SetAccess(ctx, ann.ID, policy, folder.Public); err != nil {
		s.log.Warn().Err(err).Str("id", ann.ID).Msg("Failed to persist backfilled access policy")
		return
	}
	s.log.Info().Str("id", ann.ID).Msg("Backfilled annotation access policy")
}
