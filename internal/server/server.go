package server

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/nilbase/nildb/internal/access"
	"github.com/nilbase/nildb/internal/authz"
	"github.com/nilbase/nildb/internal/catalog"
	"github.com/nilbase/nildb/internal/config"
	"github.com/nilbase/nildb/internal/database"
	"github.com/nilbase/nildb/internal/documents"
	"github.com/nilbase/nildb/internal/ids"
	"github.com/nilbase/nildb/internal/nuc"
	"github.com/nilbase/nildb/internal/policy"
	"github.com/nilbase/nildb/internal/queries"
)

// queueDepthFactor sizes the background query-run queue relative to the
// worker pool so a burst of submissions doesn't immediately reject work the
// pool could drain within a few ticks.
const queueDepthFactor = 8

// Server wires the C1-C9 engines into the HTTP surface spec §6 names: a
// single request pipeline (authz's three-stage middleware) in front of the
// builder/collection catalog (C5), the document engine (C7), and the query
// engine (C8), all sharing one database.DB connection (C2).
type Server struct {
	cfg              *config.Config
	db               *database.DB
	nodeDID          ids.DID
	rootAuthorityDID ids.DID
	catalog          *catalog.Store
	documents        *documents.Engine
	queries          *queries.Engine
	worker           *queries.Worker
	scheduler        *queries.Scheduler
	verifier         *nuc.Verifier
	revocation       *nuc.RevocationCache

	httpServer  *http.Server
	router      *Router
	maintenance atomic.Bool
}

// New builds a Server from cfg over an already-open db. The caller (cmd/nildb)
// is responsible for having called internal/logging.Init first. New derives
// this node's DID from cfg.NUC.NodePrivateKey, wires the capability-token
// verifier (C3) over a policy evaluator (C4's predicate layer) and a
// revocation cache backed by the catalog's durable journal, and constructs
// the catalog (C5), document (C7), and query (C8) engines over db.
func New(cfg *config.Config, db *database.DB) (*Server, error) {
	seed, err := hex.DecodeString(cfg.NUC.NodePrivateKey)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("nuc.node_private_key must be a %d-byte hex-encoded ed25519 seed", ed25519.SeedSize)
	}
	nodeKey := ed25519.NewKeyFromSeed(seed)
	nodeDID := ids.NewDID(nodeKey.Public().(ed25519.PublicKey))

	rootAuthorityDID, err := ids.ParseDID(cfg.NUC.RootAuthorityDID)
	if err != nil {
		return nil, fmt.Errorf("nuc.root_authority_did: %w", err)
	}

	catalogStore := catalog.NewStore(db)
	documentsEngine := documents.NewEngine(db, catalogStore)
	queriesStore := queries.NewStore(db, cfg.Queries.CompressResultThreshold)
	queriesEngine := queries.NewEngine(db, catalogStore, queriesStore)

	worker := queries.NewWorker(queriesEngine, cfg.Queries.WorkerPoolSize, cfg.Queries.WorkerPoolSize*queueDepthFactor)
	queriesEngine.SetWorker(worker)
	scheduler := queries.NewScheduler(queriesEngine, cfg.Queries.SchedulerPollInterval)

	policyEval, err := policy.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("building policy evaluator: %w", err)
	}
	revocation := nuc.NewRevocationCache(catalogStore, cfg.NUC.RevocationCacheTTL)
	verifier := nuc.NewVerifier(nodeDID, policyEval, revocation)

	srv := &Server{
		cfg:              cfg,
		db:               db,
		nodeDID:          nodeDID,
		rootAuthorityDID: rootAuthorityDID,
		catalog:          catalogStore,
		documents:        documentsEngine,
		queries:          queriesEngine,
		worker:           worker,
		scheduler:        scheduler,
		verifier:         verifier,
		revocation:       revocation,
	}

	srv.router = NewRouter(srv)
	srv.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      srv.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return srv, nil
}

// Start runs the background query worker and scheduler, then blocks serving
// HTTP until the context is canceled or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	log.Info().Str("addr", s.cfg.Server.Address()).Str("node_did", string(s.nodeDID)).Msg("starting server")

	s.worker.Start(ctx)
	go s.scheduler.Start(ctx)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections and lets in-flight requests and
// the revocation cache's background eviction loop wind down.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")
	s.revocation.Stop()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) DB() *database.DB             { return s.db }
func (s *Server) Config() *config.Config       { return s.cfg }
func (s *Server) NodeDID() ids.DID             { return s.nodeDID }
func (s *Server) RootAuthorityDID() ids.DID    { return s.rootAuthorityDID }
func (s *Server) Catalog() *catalog.Store      { return s.catalog }
func (s *Server) Documents() *documents.Engine { return s.documents }
func (s *Server) Queries() *queries.Engine     { return s.queries }
func (s *Server) Verifier() *nuc.Verifier      { return s.verifier }

// CallerLoader satisfies authz.CallerLoader via the catalog store directly.
func (s *Server) CallerLoader() authz.CallerLoader { return s.catalog }

// AccessLoader satisfies access.CollectionLoader via the catalog store.
func (s *Server) AccessLoader() access.CollectionLoader { return s.catalog }

// MaintenanceMode reports whether the node is currently in maintenance mode
// (spec §6: `POST /v1/system/maintenance/{start,stop}`, admin-delegated).
// Read/write are lock-free atomics since every request reads this on the hot
// path.
func (s *Server) MaintenanceMode() bool { return s.maintenance.Load() }

func (s *Server) SetMaintenanceMode(on bool) { s.maintenance.Store(on) }
