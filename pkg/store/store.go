// Package store holds the authoritative in-memory endpoint set. Writers
// serialise on one mutex; every read hands out deep-copied snapshots, never
// live pointers into internal structures.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/creker7/netvigil/pkg/models"
)

var (
	ErrDuplicateTarget = errors.New("duplicate target")
	ErrNotFound        = errors.New("endpoint not found")
)

// Store is the single source of truth for endpoint identity and volatile
// state. It is the only data structure shared across tasks.
type Store struct {
	mu       sync.RWMutex
	byID     map[string]*models.Endpoint
	byTarget map[string]string // normalized target -> id
	order    []string          // insertion order of ids

	subMu   sync.Mutex
	subs    map[int]*Subscription
	nextSub int
}

func New() *Store {
	return &Store{
		byID:     make(map[string]*models.Endpoint),
		byTarget: make(map[string]string),
		subs:     make(map[int]*Subscription),
	}
}

// Upsert inserts a new endpoint or merges descriptive fields into an
// existing one with the same target. Identity and volatile state of an
// existing endpoint are preserved, which makes re-adding a target
// idempotent. Returns ErrDuplicateTarget when the id and the target resolve
// to different endpoints.
func (s *Store) Upsert(ep models.Endpoint) (models.Endpoint, error) {
	s.mu.Lock()

	norm := models.NormalizeTarget(ep.Target)

	if existingID, ok := s.byTarget[norm]; ok {
		if ep.ID != "" && ep.ID != existingID {
			s.mu.Unlock()
			return models.Endpoint{}, fmt.Errorf("%w: %s", ErrDuplicateTarget, ep.Target)
		}

		existing := s.byID[existingID]
		mergeDescriptive(existing, &ep)
		existing.Kind = models.ClassifyTarget(existing.Target)

		snap := existing.Clone()
		s.mu.Unlock()
		s.publishUpdate(snap)

		return snap, nil
	}

	if ep.ID == "" {
		ep.ID = uuid.NewString()
	} else if _, ok := s.byID[ep.ID]; ok {
		// Same id, different target: a target edit. Re-key and reclassify.
		old := s.byID[ep.ID]
		delete(s.byTarget, models.NormalizeTarget(old.Target))
		old.Target = ep.Target
		old.Kind = models.ClassifyTarget(ep.Target)
		mergeDescriptive(old, &ep)
		s.byTarget[norm] = ep.ID

		snap := old.Clone()
		s.mu.Unlock()
		s.publishUpdate(snap)

		return snap, nil
	}

	ep.Kind = models.ClassifyTarget(ep.Target)
	ep.Status = models.StatusOnline
	if ep.AddedAt.IsZero() {
		ep.AddedAt = time.Now()
	}
	if !ep.Notify.Email && !ep.Notify.Telegram {
		ep.Notify = models.DefaultNotifyOptions()
	}

	inserted := ep.Clone()
	s.byID[ep.ID] = &inserted
	s.byTarget[norm] = ep.ID
	s.order = append(s.order, ep.ID)

	snap := inserted.Clone()
	s.mu.Unlock()
	s.publishUpdate(snap)

	return snap, nil
}

func mergeDescriptive(dst, src *models.Endpoint) {
	if src.Name != "" {
		dst.Name = src.Name
	}

	if src.MAC != "" {
		dst.MAC = src.MAC
	}

	if src.Site != "" {
		dst.Site = src.Site
	}

	if src.Comment != "" {
		dst.Comment = src.Comment
	}

	if len(src.Ports) > 0 {
		dst.Ports = append([]int(nil), src.Ports...)
	}
}

// Delete removes an endpoint by id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()

	ep, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	snap := ep.Clone()

	delete(s.byTarget, models.NormalizeTarget(ep.Target))
	delete(s.byID, id)

	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	s.mu.Unlock()
	s.publishUpdate(snap)

	return nil
}

// Get returns a snapshot of one endpoint.
func (s *Store) Get(id string) (models.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.byID[id]
	if !ok {
		return models.Endpoint{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return ep.Clone(), nil
}

// List returns snapshots in insertion order, optionally filtered to a set of
// site tags. An empty filter returns everything.
func (s *Store) List(sites []string) []models.Endpoint {
	var filter map[string]struct{}

	if len(sites) > 0 {
		filter = make(map[string]struct{}, len(sites))
		for _, site := range sites {
			filter[site] = struct{}{}
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Endpoint, 0, len(s.order))

	for _, id := range s.order {
		ep := s.byID[id]

		if filter != nil {
			if _, ok := filter[ep.Site]; !ok {
				continue
			}
		}

		out = append(out, ep.Clone())
	}

	return out
}

// Sites returns the distinct site tags currently in use, sorted.
func (s *Store) Sites() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})

	for _, ep := range s.byID {
		if ep.Site != "" {
			seen[ep.Site] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for site := range seen {
		out = append(out, site)
	}

	sort.Strings(out)

	return out
}

// SetExclusion flips the exclusion flag. Re-inclusion resets all alert
// counters so a formerly excluded endpoint starts counting from a clean
// slate.
func (s *Store) SetExclusion(id string, excluded bool) error {
	s.mu.Lock()

	ep, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	wasExcluded := ep.Excluded
	ep.Excluded = excluded

	if wasExcluded && !excluded {
		ep.Counters.Reset()
	}

	snap := ep.Clone()
	s.mu.Unlock()
	s.publishUpdate(snap)

	return nil
}

// Annotate updates operator-editable descriptive fields. Empty strings are
// ignored except for comment, which may be cleared.
func (s *Store) Annotate(id string, name, site *string, comment *string) error {
	s.mu.Lock()

	ep, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if name != nil {
		ep.Name = *name
	}

	if site != nil {
		ep.Site = *site
	}

	if comment != nil {
		ep.Comment = *comment
	}

	snap := ep.Clone()
	s.mu.Unlock()
	s.publishUpdate(snap)

	return nil
}

// SetNotify updates the per-host channel opt-outs.
func (s *Store) SetNotify(id string, opts models.NotifyOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	ep.Notify = opts

	return nil
}

// VolatilePatch describes a volatile-state update. Nil fields are left
// untouched; the Clear flags reset SNMP-derived readings when the source
// reported an error for the cycle.
type VolatilePatch struct {
	Latency          *models.Latency
	Status           *models.Status
	LastSuccess      *time.Time
	Temperature      *float64
	ClearTemperature bool
	Bandwidth        *models.Bandwidth
	ClearBandwidth   bool
	Counters         *models.Counters
}

// PatchVolatile applies a volatile update. Called by the state machine and
// the SNMP poller only. Each patch publishes a coalescible update so probe
// cycles reach the operator push stream.
func (s *Store) PatchVolatile(id string, patch VolatilePatch) (models.Endpoint, error) {
	s.mu.Lock()

	ep, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return models.Endpoint{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if patch.Latency != nil {
		ep.Latency = *patch.Latency
	}

	if patch.Status != nil {
		ep.Status = *patch.Status
	}

	if patch.LastSuccess != nil {
		ep.LastSuccess = *patch.LastSuccess
	}

	if patch.ClearTemperature {
		ep.Temperature = nil
	} else if patch.Temperature != nil {
		v := *patch.Temperature
		ep.Temperature = &v
	}

	if patch.ClearBandwidth {
		ep.Bandwidth = nil
	} else if patch.Bandwidth != nil {
		v := *patch.Bandwidth
		ep.Bandwidth = &v
	}

	if patch.Counters != nil {
		ep.Counters = *patch.Counters
	}

	snap := ep.Clone()
	s.mu.Unlock()
	s.publishUpdate(snap)

	return snap, nil
}

// Count returns the number of endpoints.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.byID)
}

// HasTarget reports whether a target already exists, for discovery dedupe.
func (s *Store) HasTarget(target string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byTarget[models.NormalizeTarget(target)]

	return ok
}
