package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humafiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/kgantsov/s3lease/internal/domain"
)

// Leases is the interface lease storage clients must implement.
type Leases interface {
	// ReadOrCreate returns the named lease, creating an unowned one if absent.
	ReadOrCreate(ctx context.Context, name string) (domain.LeaseResource, error)

	// Get reads the named lease; found is false when it does not exist.
	Get(ctx context.Context, name string) (domain.LeaseResource, bool, error)

	// Update conditionally overwrites the named lease.
	Update(ctx context.Context, name string, owner string, version string, t *time.Time) (domain.UpdateResult, error)

	// Remove deletes the named lease; removing an absent lease succeeds.
	Remove(ctx context.Context, name string) error
}

// Service provides HTTP service.
type Service struct {
	api      huma.API
	router   *fiber.App
	h        *Handler
	httpAddr string
}

// New returns an uninitialized HTTP service.
func New(httpAddr string, leases Leases, idGenerator *snowflake.Node) *Service {

	router := fiber.New()
	api := humafiber.New(
		router, huma.DefaultConfig("S3Lease a lease service on conditional object writes", "1.0.0"),
	)

	h := &Handler{
		leases:      leases,
		idGenerator: idGenerator,
	}
	h.ConfigureMiddleware(router)
	h.RegisterRoutes(api)

	return &Service{
		api:      api,
		router:   router,
		h:        h,
		httpAddr: httpAddr,
	}
}

func (h *Handler) ConfigureMiddleware(router *fiber.App) {
	router.Use(logger.New(logger.Config{
		TimeFormat: "2006-01-02T15:04:05.999Z0700",
		TimeZone:   "Local",
		Format:     "${time} [INFO] ${locals:requestid} ${method} ${path} ${status} ${latency} ${error}​\n",
	}))

	router.Use(healthcheck.New())
	router.Use(helmet.New())

	router.Use(requestid.New())

	prometheus := fiberprometheus.New("s3lease")
	prometheus.RegisterAt(router, "/metrics")
	router.Use(prometheus.Middleware)

	router.Get("/service/metrics", monitor.New())
	router.Use(recover.New())
}

func (h *Handler) RegisterRoutes(api huma.API) {
	huma.Register(
		api,
		huma.Operation{
			OperationID: "read-or-create-lease",
			Method:      http.MethodPost,
			Path:        "/API/v1/leases/{name}",
			Summary:     "Read or create lease",
			Description: "Returns the named lease, creating an unowned one if it does not exist yet",
			Tags:        []string{"Leases"},
		},
		h.Acquire,
	)
	huma.Register(
		api,
		huma.Operation{
			OperationID: "get-lease",
			Method:      http.MethodGet,
			Path:        "/API/v1/leases/{name}",
			Summary:     "Get lease",
			Description: "Returns the named lease or 404 if it does not exist",
			Tags:        []string{"Leases"},
		},
		h.Get,
	)
	huma.Register(
		api,
		huma.Operation{
			OperationID: "update-lease",
			Method:      http.MethodPut,
			Path:        "/API/v1/leases/{name}",
			Summary:     "Update lease",
			Description: "Conditionally overwrites the named lease; reports WON or LOST together with the authoritative lease",
			Tags:        []string{"Leases"},
		},
		h.Update,
	)
	huma.Register(
		api,
		huma.Operation{
			OperationID: "remove-lease",
			Method:      http.MethodDelete,
			Path:        "/API/v1/leases/{name}",
			Summary:     "Remove lease",
			Description: "Deletes the named lease; removing an absent lease succeeds",
			Tags:        []string{"Leases"},
		},
		h.Remove,
	)
}

// Start starts the service.
func (s *Service) Start() error {
	return s.router.Listen(fmt.Sprintf(":%s", s.httpAddr))
}

// Close closes the service.
func (s *Service) Close() error {
	return s.router.Shutdown()
}
