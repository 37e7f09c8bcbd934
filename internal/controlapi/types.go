package controlapi

import (
	"time"

	"github.com/rafaeljc/featuregate/internal/registry"
	"github.com/rafaeljc/featuregate/internal/store"
)

// Machine-readable error codes returned in ErrorResponse.Code.
const (
	CodeInvalidJSON       = "ERR_INVALID_JSON"
	CodeInvalidInput      = "ERR_INVALID_INPUT"
	CodeInvalidQueryParam = "ERR_INVALID_QUERY_PARAM"
	CodeNotFound          = "ERR_NOT_FOUND"
	CodeConflict          = "ERR_CONFLICT"
	CodeDuplicateName     = "ERR_DUPLICATE_NAME"
	CodeUnauthorized      = "ERR_UNAUTHORIZED"
	CodeForbidden         = "ERR_FORBIDDEN"
	CodeInternal          = "ERR_INTERNAL"
)

// Flag is the feature flag resource as exposed by the API.
type Flag struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Enabled           bool              `json:"enabled"`
	RolloutPercentage int               `json:"rollout_percentage"`
	TargetRoles       []string          `json:"target_roles"`
	TargetUsers       []string          `json:"target_users"`
	Metadata          map[string]string `json:"metadata"`
	CreatedBy         string            `json:"created_by"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`

	// Version is the optimistic locking counter. Send it back in PATCH to
	// reject the update if someone else changed the flag in between.
	Version int64 `json:"version"`
}

// CreateFlagRequest defines the payload for POST /flags.
// Omitted enabled and rollout_percentage take the registry defaults (on, 100%).
type CreateFlagRequest struct {
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	Enabled           *bool             `json:"enabled,omitempty"`
	RolloutPercentage *int              `json:"rollout_percentage,omitempty"`
	TargetRoles       []string          `json:"target_roles,omitempty"`
	TargetUsers       []string          `json:"target_users,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

func (r *CreateFlagRequest) draft() registry.Draft {
	return registry.Draft{
		Name:              r.Name,
		Description:       r.Description,
		Enabled:           r.Enabled,
		RolloutPercentage: r.RolloutPercentage,
		TargetRoles:       r.TargetRoles,
		TargetUsers:       r.TargetUsers,
		Metadata:          r.Metadata,
	}
}

// UpdateFlagRequest defines the payload for partial updates (PATCH).
// Pointers distinguish a missing field (untouched) from a zero value.
// An empty list clears the targeting list.
type UpdateFlagRequest struct {
	Name              *string            `json:"name,omitempty"`
	Description       *string            `json:"description,omitempty"`
	Enabled           *bool              `json:"enabled,omitempty"`
	RolloutPercentage *int               `json:"rollout_percentage,omitempty"`
	TargetRoles       *[]string          `json:"target_roles,omitempty"`
	TargetUsers       *[]string          `json:"target_users,omitempty"`
	Metadata          *map[string]string `json:"metadata,omitempty"`
	Version           *int64             `json:"version,omitempty"`
}

func (r *UpdateFlagRequest) patch() registry.Patch {
	return registry.Patch{
		Name:              r.Name,
		Description:       r.Description,
		Enabled:           r.Enabled,
		RolloutPercentage: r.RolloutPercentage,
		TargetRoles:       r.TargetRoles,
		TargetUsers:       r.TargetUsers,
		Metadata:          r.Metadata,
		ExpectedVersion:   r.Version,
	}
}

// ToggleFlagRequest defines the payload for PUT /flags/{id}/enabled.
type ToggleFlagRequest struct {
	Enabled *bool `json:"enabled"`
}

// PaginatedResponse is a standard wrapper for list endpoints to support offset pagination.
type PaginatedResponse struct {
	Data       []Flag     `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Pagination metadata for the frontend pager.
type Pagination struct {
	TotalItems  int `json:"total_items"`
	TotalPages  int `json:"total_pages"`
	CurrentPage int `json:"current_page"`
	PageSize    int `json:"page_size"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details provides optional granular validation errors.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail provides context about specific field validation failures.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

func toResponse(f store.Flag) Flag {
	out := Flag{
		ID:                f.ID,
		Name:              f.Name,
		Description:       f.Description,
		Enabled:           f.Enabled,
		RolloutPercentage: f.RolloutPercentage,
		TargetRoles:       f.TargetRoles,
		TargetUsers:       f.TargetUsers,
		Metadata:          f.Metadata,
		CreatedBy:         f.CreatedBy,
		CreatedAt:         f.CreatedAt,
		UpdatedAt:         f.UpdatedAt,
		Version:           f.Version,
	}
	// Explicit empty collections instead of null.
	if out.TargetRoles == nil {
		out.TargetRoles = []string{}
	}
	if out.TargetUsers == nil {
		out.TargetUsers = []string{}
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	return out
}
