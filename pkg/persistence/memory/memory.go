// Package memory provides an in-memory persistence.Store used by tests and
// local development. All values are cloned on the way in and out so callers
// never share state with the store.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flywheelhq/flywheel/pkg/models"
	"github.com/flywheelhq/flywheel/pkg/persistence"
)

type membershipKey struct {
	orgID     string
	segmentID string
	userID    string
}

// Store keeps everything in maps behind one RWMutex. Keys are composite
// "org/id" strings so tenants cannot collide.
type Store struct {
	mu sync.RWMutex

	users         map[string]*models.User
	accounts      map[string]*models.Account
	flows         map[string]*models.FlowDefinition
	enrollments   map[string]*models.FlowEnrollment
	segments      map[string]*models.Segment
	memberships   map[membershipKey]*models.SegmentMembership
	opportunities map[string]*models.ExpansionOpportunity
	webhooks      map[string]*models.WebhookSubscription
	deliveries    map[string][2]int64 // success, failure per subscription key
	activity      []*models.ActivityEntry
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		users:         make(map[string]*models.User),
		accounts:      make(map[string]*models.Account),
		flows:         make(map[string]*models.FlowDefinition),
		enrollments:   make(map[string]*models.FlowEnrollment),
		segments:      make(map[string]*models.Segment),
		memberships:   make(map[membershipKey]*models.SegmentMembership),
		opportunities: make(map[string]*models.ExpansionOpportunity),
		webhooks:      make(map[string]*models.WebhookSubscription),
		deliveries:    make(map[string][2]int64),
	}
}

var _ persistence.Store = (*Store)(nil)

func key(orgID, id string) string {
	return orgID + "/" + id
}

func clone[T any](src *T) *T {
	if src == nil {
		return nil
	}

	data, err := json.Marshal(src)
	if err != nil {
		panic(fmt.Sprintf("memory store clone: %v", err))
	}

	dst := new(T)
	if err := json.Unmarshal(data, dst); err != nil {
		panic(fmt.Sprintf("memory store clone: %v", err))
	}

	return dst
}

func (s *Store) HealthCheck(_ context.Context) error { return nil }

func (s *Store) Close(_ context.Context) error { return nil }

// Users

func (s *Store) UserByExternalID(_ context.Context, orgID, externalID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.OrganizationID == orgID && u.ExternalID == externalID {
			return clone(u), nil
		}
	}

	return nil, persistence.ErrUserNotFound
}

func (s *Store) UserByID(_ context.Context, orgID, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[key(orgID, id)]
	if !ok {
		return nil, persistence.ErrUserNotFound
	}

	return clone(u), nil
}

func (s *Store) UpdateUserFields(_ context.Context, orgID, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[key(orgID, id)]
	if !ok {
		return persistence.ErrUserNotFound
	}

	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	merged := map[string]any{}
	if err := json.Unmarshal(raw, &merged); err != nil {
		return fmt.Errorf("failed to decode user: %w", err)
	}

	for k, v := range fields {
		merged[k] = v
	}

	raw, err = json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to encode merged user: %w", err)
	}

	updated := &models.User{}
	if err := json.Unmarshal(raw, updated); err != nil {
		return fmt.Errorf("failed to decode merged user: %w", err)
	}

	updated.UpdatedAt = time.Now().UTC()
	s.users[key(orgID, id)] = updated

	return nil
}

func (s *Store) SaveUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[key(user.OrganizationID, user.ID)] = clone(user)

	return nil
}

// Accounts

func (s *Store) AccountByID(_ context.Context, orgID, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[key(orgID, id)]
	if !ok {
		return nil, persistence.ErrAccountNotFound
	}

	return clone(a), nil
}

func (s *Store) AccountByExternalID(_ context.Context, orgID, externalID string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.OrganizationID == orgID && a.ExternalID == externalID {
			return clone(a), nil
		}
	}

	return nil, persistence.ErrAccountNotFound
}

func (s *Store) SaveAccount(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[key(account.OrganizationID, account.ID)] = clone(account)

	return nil
}

// Flows

func (s *Store) FlowsByStatus(_ context.Context, orgID string, status models.FlowStatus) ([]*models.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flows := make([]*models.FlowDefinition, 0)

	for _, f := range s.flows {
		if f.OrganizationID == orgID && f.Status == status {
			flows = append(flows, clone(f))
		}
	}

	sort.Slice(flows, func(i, j int) bool { return flows[i].ID < flows[j].ID })

	return flows, nil
}

func (s *Store) FlowByID(_ context.Context, orgID, id string) (*models.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flows[key(orgID, id)]
	if !ok {
		return nil, persistence.ErrFlowNotFound
	}

	return clone(f), nil
}

func (s *Store) SaveFlow(_ context.Context, flow *models.FlowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flows[key(flow.OrganizationID, flow.ID)] = clone(flow)

	return nil
}

func (s *Store) DeleteFlow(_ context.Context, orgID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flows[key(orgID, id)]; !ok {
		return persistence.ErrFlowNotFound
	}

	delete(s.flows, key(orgID, id))

	return nil
}

// Enrollments

func (s *Store) EnrollmentsByUser(_ context.Context, orgID, userID string) ([]*models.FlowEnrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	enrollments := make([]*models.FlowEnrollment, 0)

	for _, e := range s.enrollments {
		if e.OrganizationID == orgID && e.UserID == userID {
			enrollments = append(enrollments, clone(e))
		}
	}

	sort.Slice(enrollments, func(i, j int) bool {
		return enrollments[i].EnrolledAt.Before(enrollments[j].EnrolledAt)
	})

	return enrollments, nil
}

func (s *Store) SaveEnrollment(_ context.Context, enrollment *models.FlowEnrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enrollments[key(enrollment.OrganizationID, enrollment.ID)] = clone(enrollment)

	return nil
}

func (s *Store) DueEnrollments(_ context.Context, now time.Time, limit int) ([]*models.FlowEnrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := make([]*models.FlowEnrollment, 0)

	for _, e := range s.enrollments {
		if e.Status != models.EnrollmentActive || e.NextProcessAt == nil {
			continue
		}

		if e.NextProcessAt.After(now) {
			continue
		}

		due = append(due, clone(e))
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextProcessAt.Before(*due[j].NextProcessAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

// Segments

func (s *Store) ActiveSegments(_ context.Context, orgID string) ([]*models.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	segments := make([]*models.Segment, 0)

	for _, seg := range s.segments {
		if seg.OrganizationID == orgID && seg.Active {
			segments = append(segments, clone(seg))
		}
	}

	sort.Slice(segments, func(i, j int) bool { return segments[i].ID < segments[j].ID })

	return segments, nil
}

func (s *Store) SegmentByID(_ context.Context, orgID, id string) (*models.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seg, ok := s.segments[key(orgID, id)]
	if !ok {
		return nil, fmt.Errorf("segment %s not found", id)
	}

	return clone(seg), nil
}

func (s *Store) SaveSegment(_ context.Context, segment *models.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.segments[key(segment.OrganizationID, segment.ID)] = clone(segment)

	return nil
}

func (s *Store) UpsertMembership(_ context.Context, orgID string, membership *models.SegmentMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := membershipKey{orgID: orgID, segmentID: membership.SegmentID, userID: membership.UserID}
	if _, ok := s.memberships[k]; !ok {
		s.memberships[k] = clone(membership)
	}

	return nil
}

func (s *Store) RemoveMembership(_ context.Context, orgID, segmentID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.memberships, membershipKey{orgID: orgID, segmentID: segmentID, userID: userID})

	return nil
}

func (s *Store) IsMember(_ context.Context, orgID, segmentID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.memberships[membershipKey{orgID: orgID, segmentID: segmentID, userID: userID}]

	return ok, nil
}

// Opportunities

func (s *Store) OpportunitiesByStatus(_ context.Context, orgID, accountID string, status models.OpportunityStatus) ([]*models.ExpansionOpportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	opportunities := make([]*models.ExpansionOpportunity, 0)

	for _, o := range s.opportunities {
		if o.OrganizationID == orgID && o.AccountID == accountID && o.Status == status {
			opportunities = append(opportunities, clone(o))
		}
	}

	sort.Slice(opportunities, func(i, j int) bool {
		return opportunities[i].CreatedAt.Before(opportunities[j].CreatedAt)
	})

	return opportunities, nil
}

func (s *Store) SaveOpportunity(_ context.Context, opp *models.ExpansionOpportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opportunities[key(opp.OrganizationID, opp.ID)] = clone(opp)

	return nil
}

// Webhooks

func (s *Store) WebhooksByOrg(_ context.Context, orgID string) ([]*models.WebhookSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := make([]*models.WebhookSubscription, 0)

	for k, w := range s.webhooks {
		if w.OrganizationID == orgID {
			subs = append(subs, s.webhookWithRate(k, w))
		}
	}

	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })

	return subs, nil
}

func (s *Store) WebhookByID(_ context.Context, orgID, id string) (*models.WebhookSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k := key(orgID, id)

	w, ok := s.webhooks[k]
	if !ok {
		return nil, persistence.ErrWebhookNotFound
	}

	return s.webhookWithRate(k, w), nil
}

func (s *Store) SaveWebhook(_ context.Context, sub *models.WebhookSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.webhooks[key(sub.OrganizationID, sub.ID)] = clone(sub)

	return nil
}

func (s *Store) RecordDelivery(_ context.Context, orgID, subscriptionID string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(orgID, subscriptionID)
	if _, ok := s.webhooks[k]; !ok {
		return persistence.ErrWebhookNotFound
	}

	counts := s.deliveries[k]
	if success {
		counts[0]++
	} else {
		counts[1]++
	}

	s.deliveries[k] = counts

	if w := s.webhooks[k]; w.Status == models.WebhookActive {
		total := counts[0] + counts[1]
		if total >= models.WebhookFailingMinDeliveries &&
			float64(counts[0])/float64(total) < models.WebhookFailingRateFloor {
			w.Status = models.WebhookFailing
			w.UpdatedAt = time.Now().UTC()
		}
	}

	return nil
}

func (s *Store) webhookWithRate(k string, w *models.WebhookSubscription) *models.WebhookSubscription {
	out := clone(w)

	counts := s.deliveries[k]
	if total := counts[0] + counts[1]; total > 0 {
		out.SuccessRate = float64(counts[0]) / float64(total)
	}

	return out
}

// Activity

func (s *Store) AppendActivity(_ context.Context, entry *models.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activity = append(s.activity, clone(entry))

	return nil
}

// Activity returns the recorded activity entries for an organization,
// oldest first. Used by tests and the activity endpoint.
func (s *Store) Activity(_ context.Context, orgID string) []*models.ActivityEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*models.ActivityEntry, 0)

	for _, e := range s.activity {
		if e.OrganizationID == orgID {
			entries = append(entries, clone(e))
		}
	}

	return entries
}
