// Package persistence defines the storage contract the lifecycle engine
// depends on. Implementations are tenant-scoped: every operation takes the
// owning organization id.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/flywheelhq/flywheel/pkg/models"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrAccountNotFound = errors.New("account not found")
	ErrFlowNotFound    = errors.New("flow not found")
	ErrWebhookNotFound = errors.New("webhook subscription not found")
)

// Store is the persistence collaborator for the engine core.
type Store interface {
	UserStore
	AccountStore
	FlowStore
	EnrollmentStore
	SegmentStore
	OpportunityStore
	WebhookStore
	ActivityStore

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type UserStore interface {
	UserByExternalID(ctx context.Context, orgID, externalID string) (*models.User, error)
	UserByID(ctx context.Context, orgID, id string) (*models.User, error)
	// UpdateUserFields applies a partial update; keys are user field names.
	UpdateUserFields(ctx context.Context, orgID, id string, fields map[string]any) error
	SaveUser(ctx context.Context, user *models.User) error
}

type AccountStore interface {
	AccountByID(ctx context.Context, orgID, id string) (*models.Account, error)
	AccountByExternalID(ctx context.Context, orgID, externalID string) (*models.Account, error)
	SaveAccount(ctx context.Context, account *models.Account) error
}

type FlowStore interface {
	FlowsByStatus(ctx context.Context, orgID string, status models.FlowStatus) ([]*models.FlowDefinition, error)
	FlowByID(ctx context.Context, orgID, id string) (*models.FlowDefinition, error)
	SaveFlow(ctx context.Context, flow *models.FlowDefinition) error
	DeleteFlow(ctx context.Context, orgID, id string) error
}

type EnrollmentStore interface {
	EnrollmentsByUser(ctx context.Context, orgID, userID string) ([]*models.FlowEnrollment, error)
	SaveEnrollment(ctx context.Context, enrollment *models.FlowEnrollment) error
	// DueEnrollments returns active enrollments across all organizations whose
	// NextProcessAt has elapsed, oldest first, bounded by limit.
	DueEnrollments(ctx context.Context, now time.Time, limit int) ([]*models.FlowEnrollment, error)
}

type SegmentStore interface {
	ActiveSegments(ctx context.Context, orgID string) ([]*models.Segment, error)
	SegmentByID(ctx context.Context, orgID, id string) (*models.Segment, error)
	SaveSegment(ctx context.Context, segment *models.Segment) error
	UpsertMembership(ctx context.Context, orgID string, membership *models.SegmentMembership) error
	RemoveMembership(ctx context.Context, orgID, segmentID, userID string) error
	IsMember(ctx context.Context, orgID, segmentID, userID string) (bool, error)
}

type OpportunityStore interface {
	OpportunitiesByStatus(ctx context.Context, orgID, accountID string, status models.OpportunityStatus) ([]*models.ExpansionOpportunity, error)
	SaveOpportunity(ctx context.Context, opp *models.ExpansionOpportunity) error
}

type WebhookStore interface {
	WebhooksByOrg(ctx context.Context, orgID string) ([]*models.WebhookSubscription, error)
	WebhookByID(ctx context.Context, orgID, id string) (*models.WebhookSubscription, error)
	SaveWebhook(ctx context.Context, sub *models.WebhookSubscription) error
	RecordDelivery(ctx context.Context, orgID, subscriptionID string, success bool) error
}

type ActivityStore interface {
	AppendActivity(ctx context.Context, entry *models.ActivityEntry) error
}
