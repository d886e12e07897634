package models

import (
	"time"

	"github.com/openadcp/salesagent/internal/adcp"
)

// CreativeRecord is a library entry: the creative as last synced, plus its
// review status. Assets are stored as submitted; tracker lifting happens at
// adapter render time, never in the library.
type CreativeRecord struct {
	TenantID    string               `json:"tenant_id"`
	CreativeID  string               `json:"creative_id"`
	PrincipalID string               `json:"principal_id"`
	Name        string               `json:"name"`
	FormatID    adcp.FormatID        `json:"format_id"`
	Status      string               `json:"status"`
	Assets      map[string]adcp.Asset `json:"assets,omitempty"`
	Tags        []string             `json:"tags,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// ToWire converts the record into its library wire shape.
func (r *CreativeRecord) ToWire() adcp.Creative {
	return adcp.Creative{
		CreativeID: r.CreativeID,
		Name:       r.Name,
		FormatID:   r.FormatID,
		Assets:     r.Assets,
		Tags:       r.Tags,
	}
}

// ToListed converts the record into its list_creatives wire shape.
func (r *CreativeRecord) ToListed() adcp.ListedCreative {
	listed := adcp.ListedCreative{
		Creative:  r.ToWire(),
		Status:    r.Status,
		CreatedAt: adcp.AwareTime{Time: r.CreatedAt},
	}
	if !r.UpdatedAt.IsZero() {
		listed.UpdatedAt = &adcp.AwareTime{Time: r.UpdatedAt}
	}
	return listed
}
