package status

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kazz187/taskvault/internal/vault"
	"github.com/kazz187/taskvault/pkg/cerr"
	"github.com/kazz187/taskvault/pkg/clog"
)

// SupervisorService is the grpc health service name that reports whether
// every watcher is running.
const SupervisorService = "taskvault.Supervisor"

// Server exposes the status snapshot over HTTP.
type Server struct {
	server   *http.Server
	agg      *Aggregator
	watchers WatcherSource
	addr     string
}

func NewServer(agg *Aggregator, host, port string) *Server {
	s := &Server{
		agg:      agg,
		watchers: agg.watchers,
		addr:     net.JoinHostPort(host, port),
	}
	s.server = &http.Server{Addr: s.addr}
	return s
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(
			clog.SlogChiMiddleware(nil),
			cerr.JSONChiMiddleware(),
		)
		r.Get("/status", s.getStatus)
		r.Get("/partitions/{partition}", s.listPartition)
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
		})
	})

	mux := http.NewServeMux()
	mux.Handle("/health", &HealthChecker{})
	mux.Handle("/api/", r)
	mux.Handle(grpchealth.NewHandler(&supervisorChecker{watchers: s.watchers}))

	return h2c.NewHandler(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(mux), &http2.Server{})
}

// ListenAndServe serves until Shutdown. ctx is the base context of every
// request. A Shutdown that comes first makes it return http.ErrServerClosed.
func (s *Server) ListenAndServe(ctx context.Context) error {
	slog.Info("starting status server", "addr", s.addr)
	s.server.Handler = s.Handler()
	s.server.BaseContext = func(_ net.Listener) context.Context { return ctx }
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.agg.Collect(r.Context())
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), snap)
}

type partitionResponse struct {
	Partition vault.Partition `json:"partition"`
	Items     []string        `json:"items"`
}

func (s *Server) listPartition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := vault.ParsePartition(chi.URLParam(r, "partition"))
	if err != nil {
		cerr.SetNewJSONError(ctx, cerr.NotFound, err.Error(), err)
		return
	}
	refs, err := s.agg.vault.Collect(ctx, p, r.URL.Query().Get("pattern"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	resp := partitionResponse{Partition: p, Items: make([]string, 0, len(refs))}
	for _, ref := range refs {
		resp.Items = append(resp.Items, ref.Name)
	}
	cerr.SetJSONResponse(ctx, resp)
}

type HealthChecker struct{}

func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// supervisorChecker answers grpc health checks. The empty service is the
// process itself; SupervisorService is serving only while no watcher is
// degraded.
type supervisorChecker struct {
	watchers WatcherSource
}

func (c *supervisorChecker) Check(_ context.Context, req *grpchealth.CheckRequest) (*grpchealth.CheckResponse, error) {
	switch strings.TrimSpace(req.Service) {
	case "":
		return &grpchealth.CheckResponse{Status: grpchealth.StatusServing}, nil
	case SupervisorService:
		if c.watchers == nil {
			return &grpchealth.CheckResponse{Status: grpchealth.StatusUnknown}, nil
		}
		if snap := c.watchers.Snapshot(); snap != nil && snap.Healthy() {
			return &grpchealth.CheckResponse{Status: grpchealth.StatusServing}, nil
		}
		return &grpchealth.CheckResponse{Status: grpchealth.StatusNotServing}, nil
	default:
		return nil, connect.NewError(cerr.NotFound.ConnectCode(), cerr.Errorf(cerr.NotFound, "unknown service %s", req.Service))
	}
}
