package adcp

import (
	"fmt"
)

// ResponsePackage is one package in a create/update success response.
// Paused is always present (it defaults to false rather than being omitted).
type ResponsePackage struct {
	PackageID           string               `json:"package_id"`
	BuyerRef            string               `json:"buyer_ref,omitempty"`
	Paused              bool                 `json:"paused"`
	CreativeAssignments []CreativeAssignment `json:"creative_assignments,omitempty"`
}

// CreativeAssignment links a creative to a package on the wire.
type CreativeAssignment struct {
	CreativeID string `json:"creative_id"`
	Weight     int    `json:"weight,omitempty"`
}

// CreateMediaBuyResult is the tagged union returned by the media buy
// lifecycle: exactly one of CreateMediaBuySuccess or CreateMediaBuyError.
// Callers must switch on the concrete type; the success shape can never
// carry errors and vice versa.
type CreateMediaBuyResult interface {
	isCreateMediaBuyResult()
	// Summary renders a short human-readable description the transport
	// layer may lift into an artifact description.
	Summary() string
}

// CreateMediaBuySuccess is the success arm of the create result.
type CreateMediaBuySuccess struct {
	MediaBuyID       string            `json:"media_buy_id"`
	BuyerRef         string            `json:"buyer_ref"`
	Packages         []ResponsePackage `json:"packages"`
	CreativeDeadline *AwareTime        `json:"creative_deadline,omitempty"`
}

func (CreateMediaBuySuccess) isCreateMediaBuyResult() {}

func (r CreateMediaBuySuccess) Summary() string {
	return fmt.Sprintf("created media buy %s with %d package(s)", r.MediaBuyID, len(r.Packages))
}

// CreateMediaBuyError is the error arm of the create result. It never
// carries a media_buy_id.
type CreateMediaBuyError struct {
	Errors []Error `json:"errors"`
}

func (CreateMediaBuyError) isCreateMediaBuyResult() {}

func (r CreateMediaBuyError) Summary() string {
	if len(r.Errors) == 0 {
		return "media buy creation failed"
	}
	return fmt.Sprintf("media buy creation failed: %s", r.Errors[0].Message)
}

// NewCreateError wraps one or more errors into the error arm.
func NewCreateError(errs ...*Error) CreateMediaBuyError {
	out := CreateMediaBuyError{}
	for _, e := range errs {
		if e != nil {
			out.Errors = append(out.Errors, *e)
		}
	}
	return out
}

// UpdateMediaBuyResult is the tagged union for update_media_buy.
type UpdateMediaBuyResult interface {
	isUpdateMediaBuyResult()
	Summary() string
}

// UpdateMediaBuySuccess reports the updated buy.
type UpdateMediaBuySuccess struct {
	MediaBuyID string            `json:"media_buy_id"`
	BuyerRef   string            `json:"buyer_ref,omitempty"`
	Status     string            `json:"status"`
	Packages   []ResponsePackage `json:"packages,omitempty"`
}

func (UpdateMediaBuySuccess) isUpdateMediaBuyResult() {}

func (r UpdateMediaBuySuccess) Summary() string {
	return fmt.Sprintf("updated media buy %s (status %s)", r.MediaBuyID, r.Status)
}

// UpdateMediaBuyError is the error arm of the update result.
type UpdateMediaBuyError struct {
	Errors []Error `json:"errors"`
}

func (UpdateMediaBuyError) isUpdateMediaBuyResult() {}

func (r UpdateMediaBuyError) Summary() string {
	if len(r.Errors) == 0 {
		return "media buy update failed"
	}
	return fmt.Sprintf("media buy update failed: %s", r.Errors[0].Message)
}

// NewUpdateError wraps one or more errors into the error arm.
func NewUpdateError(errs ...*Error) UpdateMediaBuyError {
	out := UpdateMediaBuyError{}
	for _, e := range errs {
		if e != nil {
			out.Errors = append(out.Errors, *e)
		}
	}
	return out
}
