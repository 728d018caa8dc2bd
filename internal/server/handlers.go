package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog/log"

	"github.com/kgantsov/s3lease/internal/domain"
)

type (
	Handler struct {
		leases      Leases
		idGenerator *snowflake.Node
	}
)

func (h *Handler) Acquire(ctx context.Context, input *AcquireLeaseInput) (*AcquireLeaseOutput, error) {
	opID := h.idGenerator.Generate()

	resource, err := h.leases.ReadOrCreate(ctx, input.Name)
	if err != nil {
		log.Warn().Int64("op_id", opID.Int64()).Msgf("Failed to read or create lease %s: %v", input.Name, err)
		return nil, leaseError(err)
	}

	log.Debug().Int64("op_id", opID.Int64()).Msgf("Read or created lease %s", input.Name)

	res := &AcquireLeaseOutput{
		Status: http.StatusOK,
		Body:   leaseBody(input.Name, resource),
	}
	return res, nil
}

func (h *Handler) Get(ctx context.Context, input *GetLeaseInput) (*GetLeaseOutput, error) {
	resource, found, err := h.leases.Get(ctx, input.Name)
	if err != nil {
		return nil, leaseError(err)
	}
	if !found {
		return nil, huma.Error404NotFound("Lease does not exist")
	}

	res := &GetLeaseOutput{
		Status: http.StatusOK,
		Body:   leaseBody(input.Name, resource),
	}
	return res, nil
}

func (h *Handler) Update(ctx context.Context, input *UpdateLeaseInput) (*UpdateLeaseOutput, error) {
	opID := h.idGenerator.Generate()

	result, err := h.leases.Update(ctx, input.Name, input.Body.Owner, input.Body.Version, input.Body.Time)
	if err != nil {
		log.Warn().Int64("op_id", opID.Int64()).Msgf("Failed to update lease %s: %v", input.Name, err)
		return nil, leaseError(err)
	}

	status := "LOST"
	if result.Won {
		status = "WON"
	}
	log.Debug().Int64("op_id", opID.Int64()).Msgf(
		"Update of lease %s by %s: %s", input.Name, input.Body.Owner, status,
	)

	res := &UpdateLeaseOutput{
		Status: http.StatusOK,
		Body: UpdateLeaseOutputBody{
			Status:  status,
			Name:    input.Name,
			Owner:   result.Resource.Body.Owner,
			Version: result.Resource.Version,
			Time:    result.Resource.Body.Time,
		},
	}
	return res, nil
}

func (h *Handler) Remove(ctx context.Context, input *RemoveLeaseInput) (*RemoveLeaseOutput, error) {
	opID := h.idGenerator.Generate()

	if err := h.leases.Remove(ctx, input.Name); err != nil {
		log.Warn().Int64("op_id", opID.Int64()).Msgf("Failed to remove lease %s: %v", input.Name, err)
		return nil, leaseError(err)
	}

	log.Debug().Int64("op_id", opID.Int64()).Msgf("Removed lease %s", input.Name)

	res := &RemoveLeaseOutput{
		Status: http.StatusOK,
		Body:   RemoveLeaseOutputBody{Status: "REMOVED"},
	}
	return res, nil
}

func leaseBody(name string, resource domain.LeaseResource) LeaseBody {
	return LeaseBody{
		Name:    name,
		Owner:   resource.Body.Owner,
		Version: resource.Version,
		Time:    resource.Body.Time,
	}
}

// leaseError maps the domain taxonomy onto HTTP statuses. Lost updates never
// reach this point: they are a normal branch reported in the response body.
func leaseError(err error) error {
	var authErr *domain.AuthError
	var timeoutErr *domain.TimeoutError
	var corruptErr *domain.CorruptLeaseError

	switch {
	case errors.As(err, &authErr):
		return huma.Error502BadGateway("Storage backend rejected the request", err)
	case errors.As(err, &timeoutErr):
		return huma.Error504GatewayTimeout("Storage backend did not answer in time", err)
	case errors.Is(err, domain.ErrTooManyAttempts):
		return huma.Error503ServiceUnavailable("Lease is churning, try again later", err)
	case errors.As(err, &corruptErr):
		return huma.Error500InternalServerError("Stored lease body is corrupt", err)
	default:
		return huma.Error500InternalServerError("Lease operation failed", err)
	}
}
