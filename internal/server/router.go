package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nilbase/nildb/internal/authz"
	"github.com/nilbase/nildb/internal/metrics"
	"github.com/nilbase/nildb/internal/nuc"
	"github.com/nilbase/nildb/internal/server/handlers"
)

// Command namespaces spec §6's route table maps onto (glossary: "hierarchical
// path identifying the operation a token authorises").
const (
	cmdBuildersRead   nuc.Command = "nil/db/builders/read"
	cmdBuildersUpdate nuc.Command = "nil/db/builders/update"
	cmdBuildersDelete nuc.Command = "nil/db/builders/delete"

	cmdCollectionsRead   nuc.Command = "nil/db/collections/read"
	cmdCollectionsCreate nuc.Command = "nil/db/collections/create"
	cmdCollectionsDelete nuc.Command = "nil/db/collections/delete"
	cmdCollectionsUpdate nuc.Command = "nil/db/collections/update"

	cmdDataCreate nuc.Command = "nil/db/data/create"
	cmdDataRead   nuc.Command = "nil/db/data/read"
	cmdDataUpdate nuc.Command = "nil/db/data/update"
	cmdDataDelete nuc.Command = "nil/db/data/delete"

	cmdQueriesRead    nuc.Command = "nil/db/queries/read"
	cmdQueriesCreate  nuc.Command = "nil/db/queries/create"
	cmdQueriesDelete  nuc.Command = "nil/db/queries/delete"
	cmdQueriesExecute nuc.Command = "nil/db/queries/execute"

	cmdUsersRead   nuc.Command = "nil/db/users/read"
	cmdUsersUpdate nuc.Command = "nil/db/users/update"
	cmdUsersDelete nuc.Command = "nil/db/users/delete"

	// cmdSystem is required of every admin-delegated system route (spec §6:
	// "admin delegation"). A command check alone only proves a chain was
	// delegated this namespace; RequireRootAuthority additionally pins the
	// chain's root issuer to this node's configured root authority, since
	// these routes must not be reachable via an ordinary builder delegation.
	cmdSystem nuc.Command = "nil/db/system/update"
)

type Router struct {
	server      *Server
	mux         *http.ServeMux
	middlewares []Middleware
}

type Middleware func(http.Handler) http.Handler

func NewRouter(srv *Server) *Router {
	r := &Router{
		server: srv,
		mux:    http.NewServeMux(),
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

func (r *Router) setupMiddleware() {
	r.Use(RecoveryMiddleware)
	r.Use(RequestIDMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(r.maintenanceMiddleware)

	if r.server.cfg.Server.CORS.Enabled {
		r.Use(CORSMiddleware(r.server.cfg.Server.CORS))
	}

	r.Use(MaxBodySizeMiddleware(r.server.cfg.Server.MaxBodySize))
}

// maintenanceMiddleware implements spec §5's "all non-admin routes return
// 503 Service Unavailable before any other logic runs" while maintenance
// mode is active. The handful of always-available routes (health probes,
// metrics, and the system routes themselves, so an admin can still turn
// maintenance back off) are exempted by path.
func (r *Router) maintenanceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.server.MaintenanceMode() && !isExemptFromMaintenance(req.URL.Path) {
			writeMaintenanceError(w)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func isExemptFromMaintenance(path string) bool {
	switch {
	case path == "/metrics":
		return true
	case strings.HasPrefix(path, "/health"):
		return true
	case strings.HasPrefix(path, "/v1/system/"):
		return true
	default:
		return false
	}
}

func (r *Router) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

func (r *Router) setupRoutes() {
	srv := r.server
	verifier := srv.Verifier()
	callerLoader := srv.CallerLoader()

	builder := func(cmd nuc.Command) Middleware {
		return chain(authz.LoadToken(verifier, cmd), authz.LoadCaller(callerLoader, authz.CallerBuilder))
	}
	user := func(cmd nuc.Command) Middleware {
		return chain(authz.LoadToken(verifier, cmd), authz.LoadCaller(callerLoader, authz.CallerUser))
	}
	admin := func() Middleware {
		return chain(authz.LoadToken(verifier, cmdSystem), authz.RequireRootAuthority(srv.RootAuthorityDID()))
	}

	health := handlers.NewHealthHandlers(srv.DB(), "0.1.0")
	system := handlers.NewSystemHandlers(srv.NodeDID(), srv.MaintenanceMode, srv.SetMaintenanceMode)
	builders := handlers.NewBuilderHandlers(srv.Catalog())
	collections := handlers.NewCollectionHandlers(srv.Catalog())
	data := handlers.NewDataHandlers(srv.Documents())
	queryHandlers := handlers.NewQueryHandlers(srv.Queries())
	users := handlers.NewUserHandlers(srv.Catalog(), srv.Documents())

	r.mux.HandleFunc("GET /", r.wrap(health.Liveness))
	r.mux.HandleFunc("GET /health", r.wrap(health.Health))
	r.mux.HandleFunc("GET /health/live", r.wrap(health.Liveness))
	r.mux.HandleFunc("GET /health/ready", r.wrap(health.Readiness))
	r.mux.HandleFunc("GET /health/stats", r.wrap(health.Stats))
	r.mux.Handle("GET /metrics", metrics.Handler())

	r.mux.HandleFunc("GET /v1/system/about", r.wrap(system.About))
	r.route("POST /v1/system/log-level", admin(), system.LogLevel)
	r.route("POST /v1/system/maintenance/start", admin(), system.MaintenanceStart)
	r.route("POST /v1/system/maintenance/stop", admin(), system.MaintenanceStop)

	r.mux.HandleFunc("POST /v1/builders/register", r.wrap(builders.Register))
	r.route("GET /v1/builders/me", builder(cmdBuildersRead), builders.Me)
	r.route("POST /v1/builders/me", builder(cmdBuildersUpdate), builders.UpdateMe)
	r.route("DELETE /v1/builders/me", builder(cmdBuildersDelete), builders.DeleteMe)

	r.route("GET /v1/collections", builder(cmdCollectionsRead), collections.List)
	r.route("POST /v1/collections", builder(cmdCollectionsCreate), collections.Create)
	r.route("GET /v1/collections/{id}", builder(cmdCollectionsRead), collections.Get)
	r.route("DELETE /v1/collections/{id}", builder(cmdCollectionsDelete), collections.Delete)
	r.route("POST /v1/collections/{id}/indexes", builder(cmdCollectionsUpdate), collections.CreateIndex)
	r.route("DELETE /v1/collections/{id}/indexes/{name}", builder(cmdCollectionsUpdate), collections.DropIndex)

	r.route("POST /v1/data/standard", builder(cmdDataCreate), data.CreateStandard)
	r.route("POST /v1/data/owned", builder(cmdDataCreate), data.CreateOwned)
	r.route("POST /v1/data/find", builder(cmdDataRead), data.Find)
	r.route("POST /v1/data/update", builder(cmdDataUpdate), data.Update)
	r.route("POST /v1/data/delete", builder(cmdDataDelete), data.Delete)
	r.route("DELETE /v1/data/{id}/flush", builder(cmdDataDelete), data.Flush)
	r.route("GET /v1/data/{id}/tail", builder(cmdDataRead), data.Tail)

	r.route("GET /v1/queries", builder(cmdQueriesRead), queryHandlers.List)
	r.route("POST /v1/queries", builder(cmdQueriesCreate), queryHandlers.Create)
	r.route("DELETE /v1/queries/{id}", builder(cmdQueriesDelete), queryHandlers.Delete)
	r.route("POST /v1/queries/run", builder(cmdQueriesExecute), queryHandlers.Run)
	r.route("GET /v1/queries/runs/{id}", builder(cmdQueriesRead), queryHandlers.GetRun)

	r.route("GET /v1/users/me/data", user(cmdUsersRead), users.MeData)
	r.route("GET /v1/users/data/{collection}/{document}", user(cmdUsersRead), users.GetDocument)
	r.route("DELETE /v1/users/data/{collection}/{document}", user(cmdUsersDelete), users.DeleteDocument)
	r.route("POST /v1/users/data/acl/grant", user(cmdUsersUpdate), users.Grant)
	r.route("POST /v1/users/data/acl/revoke", user(cmdUsersUpdate), users.Revoke)
}

// writeMaintenanceError writes the 503 spec §5 requires for every
// non-admin route while maintenance mode is active. It isn't routed
// through apperr/handlers.Error since "maintenance" is an operational
// state, not one of the closed error tags C9 defines.
func writeMaintenanceError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"errors": []string{"MaintenanceError", "node is in maintenance mode"},
	})
}

// route registers a chain of auth middleware in front of fn at pattern.
func (r *Router) route(pattern string, mw Middleware, fn handlers.HandlerFunc) {
	r.mux.HandleFunc(pattern, mw(r.wrap(fn)).ServeHTTP)
}

// chain composes authz middleware left-to-right: chain(a, b) applies a
// first, then b, matching the order routes read in spec §6 (verify token,
// then resolve caller).
func chain(mws ...func(http.Handler) http.Handler) Middleware {
	return func(next http.Handler) http.Handler {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			h = mws[i](h)
		}
		return h
	}
}

func (r *Router) wrap(fn handlers.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		fn(w, req)
	}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	handler := http.Handler(r.mux)

	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}

	handler.ServeHTTP(w, req)
}

func PathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

func QueryParams(r *http.Request, name string) []string {
	return r.URL.Query()[name]
}

func QueryParam(r *http.Request, name string) string {
	return r.URL.Query().Get(name)
}

func ParseFilters(r *http.Request) []string {
	return QueryParams(r, "filter")
}

func ParseSorts(r *http.Request) []string {
	sortParam := QueryParam(r, "sort")
	if sortParam == "" {
		return nil
	}
	return strings.Split(sortParam, ",")
}

func ParseExpand(r *http.Request) []string {
	expandParam := QueryParam(r, "expand")
	if expandParam == "" {
		return nil
	}
	return strings.Split(expandParam, ",")
}
