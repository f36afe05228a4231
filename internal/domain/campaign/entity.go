package campaign

import "github.com/google/uuid"

// ApplicationStatus mirrors campaign_applications.status
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "PENDING"
	ApplicationAccepted ApplicationStatus = "ACCEPTED"
	ApplicationRejected ApplicationStatus = "REJECTED"
)

// Application is an influencer's application to a brand campaign.
// BrandID is the owner of the campaign, not a column of the application row.
type Application struct {
	ID           uuid.UUID         `db:"id"`
	CampaignID   uuid.UUID         `db:"campaign_id"`
	InfluencerID uuid.UUID         `db:"influencer_id"`
	BrandID      uuid.UUID         `db:"brand_id"`
	Status       ApplicationStatus `db:"status"`
}
