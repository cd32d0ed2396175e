// Package mock provides an in-memory implementation of the store
// interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/facematch/internal/store"
)

// MockStore is an in-memory implementation of store.Store with per-method
// error injection. It enforces the same contracts as the real store:
// optimistic version checks, pending-suggestion uniqueness, single
// centroid per identity and flattened merge pointers.
type MockStore struct {
	mu           sync.RWMutex
	identities   map[string]*store.Identity
	observations map[string]*store.Observation
	prototypes   map[string]*store.Prototype
	suggestions  map[string]*store.Suggestion
	events       []store.AssignmentEvent

	// Error injection
	CreateIdentityError       error
	GetIdentityError          error
	ListIdentitiesError       error
	MergeIdentityError        error
	SetIdentityStatusError    error
	CreateObservationError    error
	GetObservationError       error
	ListUnassignedError       error
	ListByIdentityError       error
	ListByClusterError        error
	UpdateAssignmentError     error
	SetClusterLabelsError     error
	CreatePrototypeError      error
	UpsertCentroidError       error
	GetCentroidError          error
	ListPrototypesError       error
	DeletePrototypeError      error
	CreateSuggestionError     error
	GetSuggestionError        error
	ListPendingError          error
	HasRejectedError          error
	TransitionError           error
	ExpireBySourceError       error
	AppendEventError          error
	ListEventsError           error
}

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		identities:   make(map[string]*store.Identity),
		observations: make(map[string]*store.Observation),
		prototypes:   make(map[string]*store.Prototype),
		suggestions:  make(map[string]*store.Suggestion),
	}
}

// AddIdentity seeds an identity.
func (m *MockStore) AddIdentity(identity store.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[identity.ID] = &identity
}

// AddObservation seeds an observation.
func (m *MockStore) AddObservation(obs store.Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observations[obs.ID] = &obs
}

// AddPrototype seeds a prototype.
func (m *MockStore) AddPrototype(p store.Prototype) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prototypes[p.ID] = &p
}

// AddSuggestion seeds a suggestion.
func (m *MockStore) AddSuggestion(s store.Suggestion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suggestions[s.ID] = &s
}

// Events returns a copy of the appended audit events.
func (m *MockStore) Events() []store.AssignmentEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]store.AssignmentEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Suggestions returns a copy of all stored suggestions.
func (m *MockStore) Suggestions() []store.Suggestion {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []store.Suggestion
	for _, s := range m.suggestions {
		out = append(out, *s)
	}
	return out
}

func (m *MockStore) CreateIdentity(ctx context.Context, identity *store.Identity) error {
	if m.CreateIdentityError != nil {
		return m.CreateIdentityError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.identities {
		if existing.NormalizedName == identity.NormalizedName && existing.Status != store.IdentityMerged {
			return fmt.Errorf("%w: %s", store.ErrDuplicateName, identity.DisplayName)
		}
	}
	cp := *identity
	m.identities[identity.ID] = &cp
	return nil
}

func (m *MockStore) GetIdentity(ctx context.Context, id string) (*store.Identity, error) {
	if m.GetIdentityError != nil {
		return nil, m.GetIdentityError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	identity, ok := m.identities[id]
	if !ok {
		return nil, fmt.Errorf("%w: identity %s", store.ErrNotFound, id)
	}
	cp := *identity
	return &cp, nil
}

func (m *MockStore) GetIdentityByName(ctx context.Context, normalizedName string) (*store.Identity, error) {
	if m.GetIdentityError != nil {
		return nil, m.GetIdentityError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, identity := range m.identities {
		if identity.NormalizedName == normalizedName {
			cp := *identity
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: identity named %q", store.ErrNotFound, normalizedName)
}

func (m *MockStore) ListIdentities(ctx context.Context, status store.IdentityStatus) ([]store.Identity, error) {
	if m.ListIdentitiesError != nil {
		return nil, m.ListIdentitiesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []store.Identity
	for _, identity := range m.identities {
		if status == "" || identity.Status == status {
			out = append(out, *identity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockStore) MergeIdentity(ctx context.Context, sourceID, targetID string) error {
	if m.MergeIdentityError != nil {
		return m.MergeIdentityError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	source, ok := m.identities[sourceID]
	if !ok {
		return fmt.Errorf("%w: identity %s", store.ErrNotFound, sourceID)
	}
	if _, ok := m.identities[targetID]; !ok {
		return fmt.Errorf("%w: identity %s", store.ErrNotFound, targetID)
	}
	source.Status = store.IdentityMerged
	source.MergedInto = targetID
	// Flatten: anything already pointing at source now points at target.
	for _, identity := range m.identities {
		if identity.MergedInto == sourceID && identity.ID != sourceID {
			identity.MergedInto = targetID
		}
	}
	return nil
}

func (m *MockStore) SetIdentityStatus(ctx context.Context, id string, status store.IdentityStatus) error {
	if m.SetIdentityStatusError != nil {
		return m.SetIdentityStatusError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.identities[id]
	if !ok {
		return fmt.Errorf("%w: identity %s", store.ErrNotFound, id)
	}
	identity.Status = status
	return nil
}

func (m *MockStore) CreateObservation(ctx context.Context, obs *store.Observation) error {
	if m.CreateObservationError != nil {
		return m.CreateObservationError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *obs
	m.observations[obs.ID] = &cp
	return nil
}

func (m *MockStore) GetObservation(ctx context.Context, id string) (*store.Observation, error) {
	if m.GetObservationError != nil {
		return nil, m.GetObservationError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obs, ok := m.observations[id]
	if !ok {
		return nil, fmt.Errorf("%w: observation %s", store.ErrNotFound, id)
	}
	cp := *obs
	return &cp, nil
}

func (m *MockStore) GetObservations(ctx context.Context, ids []string) ([]store.Observation, error) {
	if m.GetObservationError != nil {
		return nil, m.GetObservationError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []store.Observation
	for _, id := range ids {
		if obs, ok := m.observations[id]; ok {
			out = append(out, *obs)
		}
	}
	return out, nil
}

func (m *MockStore) ListUnassigned(ctx context.Context, afterID string, limit int) ([]store.Observation, error) {
	if m.ListUnassignedError != nil {
		return nil, m.ListUnassignedError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []store.Observation
	for _, obs := range m.observations {
		if obs.IdentityID == "" && obs.ID > afterID {
			out = append(out, *obs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockStore) ListByIdentity(ctx context.Context, identityID string) ([]store.Observation, error) {
	if m.ListByIdentityError != nil {
		return nil, m.ListByIdentityError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []store.Observation
	for _, obs := range m.observations {
		if obs.IdentityID == identityID {
			out = append(out, *obs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockStore) ListByCluster(ctx context.Context, label string) ([]store.Observation, error) {
	if m.ListByClusterError != nil {
		return nil, m.ListByClusterError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []store.Observation
	for _, obs := range m.observations {
		if obs.ClusterLabel == label {
			out = append(out, *obs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockStore) CountByIdentity(ctx context.Context, identityID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, obs := range m.observations {
		if obs.IdentityID == identityID {
			count++
		}
	}
	return count, nil
}

func (m *MockStore) UpdateAssignment(ctx context.Context, obsID string, version int64, identityID string) error {
	if m.UpdateAssignmentError != nil {
		return m.UpdateAssignmentError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obs, ok := m.observations[obsID]
	if !ok {
		return fmt.Errorf("%w: observation %s", store.ErrNotFound, obsID)
	}
	if obs.Version != version {
		return fmt.Errorf("%w: observation %s at version %d, expected %d",
			store.ErrConflict, obsID, obs.Version, version)
	}
	obs.IdentityID = identityID
	obs.Version++
	return nil
}

func (m *MockStore) SetClusterLabels(ctx context.Context, labels map[string]string) error {
	if m.SetClusterLabelsError != nil {
		return m.SetClusterLabelsError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, label := range labels {
		if obs, ok := m.observations[id]; ok {
			obs.ClusterLabel = label
		}
	}
	return nil
}

func (m *MockStore) CreatePrototype(ctx context.Context, p *store.Prototype) error {
	if m.CreatePrototypeError != nil {
		return m.CreatePrototypeError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.prototypes[p.ID] = &cp
	return nil
}

func (m *MockStore) UpsertCentroid(ctx context.Context, p *store.Prototype) error {
	if m.UpsertCentroidError != nil {
		return m.UpsertCentroidError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.prototypes {
		if existing.IdentityID == p.IdentityID && existing.Role == store.RoleCentroid && id != p.ID {
			delete(m.prototypes, id)
		}
	}
	cp := *p
	m.prototypes[p.ID] = &cp
	return nil
}

func (m *MockStore) GetCentroid(ctx context.Context, identityID string) (*store.Prototype, error) {
	if m.GetCentroidError != nil {
		return nil, m.GetCentroidError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.prototypes {
		if p.IdentityID == identityID && p.Role == store.RoleCentroid {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: centroid of identity %s", store.ErrNotFound, identityID)
}

func (m *MockStore) ListPrototypes(ctx context.Context, identityID string) ([]store.Prototype, error) {
	if m.ListPrototypesError != nil {
		return nil, m.ListPrototypesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []store.Prototype
	for _, p := range m.prototypes {
		if p.IdentityID == identityID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockStore) ListAllPrototypes(ctx context.Context) ([]store.Prototype, error) {
	if m.ListPrototypesError != nil {
		return nil, m.ListPrototypesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []store.Prototype
	for _, p := range m.prototypes {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockStore) DeletePrototype(ctx context.Context, id string) error {
	if m.DeletePrototypeError != nil {
		return m.DeletePrototypeError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prototypes[id]
	if !ok {
		return fmt.Errorf("%w: prototype %s", store.ErrNotFound, id)
	}
	if p.Pinned {
		return fmt.Errorf("%w: prototype %s is pinned by %s", store.ErrConflict, id, p.PinnedBy)
	}
	delete(m.prototypes, id)
	return nil
}

func (m *MockStore) CreateSuggestion(ctx context.Context, s *store.Suggestion) error {
	if m.CreateSuggestionError != nil {
		return m.CreateSuggestionError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.suggestions {
		if existing.ObservationID == s.ObservationID &&
			existing.IdentityID == s.IdentityID &&
			existing.Status == store.SuggestionPending {
			return fmt.Errorf("%w: pending suggestion for pair already exists", store.ErrConflict)
		}
	}
	cp := *s
	m.suggestions[s.ID] = &cp
	return nil
}

func (m *MockStore) GetSuggestion(ctx context.Context, id string) (*store.Suggestion, error) {
	if m.GetSuggestionError != nil {
		return nil, m.GetSuggestionError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.suggestions[id]
	if !ok {
		return nil, fmt.Errorf("%w: suggestion %s", store.ErrNotFound, id)
	}
	cp := *s
	return &cp, nil
}

func (m *MockStore) ListPendingSuggestions(ctx context.Context, identityID string) ([]store.Suggestion, error) {
	if m.ListPendingError != nil {
		return nil, m.ListPendingError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []store.Suggestion
	for _, s := range m.suggestions {
		if s.Status != store.SuggestionPending {
			continue
		}
		if identityID != "" && s.IdentityID != identityID {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockStore) HasRejectedSuggestion(ctx context.Context, obsID, identityID string) (bool, error) {
	if m.HasRejectedError != nil {
		return false, m.HasRejectedError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.suggestions {
		if s.ObservationID == obsID && s.IdentityID == identityID && s.Status == store.SuggestionRejected {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockStore) TransitionSuggestion(ctx context.Context, id string, from, to store.SuggestionStatus, reviewedAt time.Time) error {
	if m.TransitionError != nil {
		return m.TransitionError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.suggestions[id]
	if !ok {
		return fmt.Errorf("%w: suggestion %s", store.ErrNotFound, id)
	}
	if s.Status != from {
		return fmt.Errorf("%w: suggestion %s is %s, expected %s", store.ErrConflict, id, s.Status, from)
	}
	s.Status = to
	s.ReviewedAt = &reviewedAt
	return nil
}

func (m *MockStore) ExpireBySource(ctx context.Context, sourceObservationID string) (int, error) {
	if m.ExpireBySourceError != nil {
		return 0, m.ExpireBySourceError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, s := range m.suggestions {
		if s.SourceObservationID == sourceObservationID && s.Status == store.SuggestionPending {
			s.Status = store.SuggestionExpired
			count++
		}
	}
	return count, nil
}

func (m *MockStore) AppendEvent(ctx context.Context, e *store.AssignmentEvent) error {
	if m.AppendEventError != nil {
		return m.AppendEventError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *e)
	return nil
}

func (m *MockStore) ListEvents(ctx context.Context, identityID string, limit int) ([]store.AssignmentEvent, error) {
	if m.ListEventsError != nil {
		return nil, m.ListEventsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []store.AssignmentEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if identityID != "" && e.FromIdentityID != identityID && e.ToIdentityID != identityID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Verify interface compliance
var _ store.Store = (*MockStore)(nil)
