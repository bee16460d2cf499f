// Package gateway exposes the lending engine over HTTP. It is a thin router:
// request decoding, quota and rate-limit checks, and typed-error translation
// live here; every state transition belongs to the engine.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	nativecommon "lendvault/native/common"
	"lendvault/native/lending"
	"lendvault/observability"
	"lendvault/oracle"
)

const requestLimit = 1 << 20 // 1 MiB

// Server wires the engine, the oracle feed and the observability stack into
// an HTTP API.
type Server struct {
	engine  *lending.Engine
	feed    *oracle.Feed
	clock   lending.Clock
	log     *slog.Logger
	metrics *observability.LendingMetrics
	limiter *rate.Limiter

	quota   nativecommon.Quota
	quotaMu sync.Mutex
	usage   map[lending.AccountRef]nativecommon.QuotaNow
}

// Options carries the tunables applied when constructing a Server.
type Options struct {
	RateLimitPerMin int
	Quota           nativecommon.Quota
}

func NewServer(engine *lending.Engine, feed *oracle.Feed, clock lending.Clock, log *slog.Logger, opts Options) *Server {
	var limiter *rate.Limiter
	if opts.RateLimitPerMin > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RateLimitPerMin)/60.0), opts.RateLimitPerMin)
	}
	return &Server{
		engine:  engine,
		feed:    feed,
		clock:   clock,
		log:     log,
		metrics: observability.Metrics(),
		limiter: limiter,
		quota:   opts.Quota,
		usage:   make(map[lending.AccountRef]nativecommon.QuotaNow),
	}
}

// Router assembles the HTTP routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestID, s.requestLogger, s.rateLimit)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/lending", func(r chi.Router) {
		r.Post("/deposit", s.deposit)
		r.Post("/withdraw", s.withdraw)
		r.Post("/borrow", s.borrow)
		r.Post("/repay", s.repay)
		r.Post("/liquidate", s.liquidate)
		r.Get("/banks/{asset}", s.getBank)
		r.Get("/positions/{owner}", s.getPosition)
		r.Get("/positions/{owner}/health", s.getPositionHealth)
	})
	r.Post("/v1/oracle/prices", s.postPrice)

	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type amountRequest struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

type sharesResponse struct {
	Shares uint64 `json:"shares"`
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	s.amountOperation(w, r, "deposit", func(req amountRequest) (uint64, error) {
		return s.engine.Deposit(lending.AccountRef(req.User), lending.AssetID(req.Asset), req.Amount)
	})
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	s.amountOperation(w, r, "withdraw", func(req amountRequest) (uint64, error) {
		return s.engine.Withdraw(lending.AccountRef(req.User), lending.AssetID(req.Asset), req.Amount)
	})
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	s.amountOperation(w, r, "repay", func(req amountRequest) (uint64, error) {
		return s.engine.Repay(lending.AccountRef(req.User), lending.AssetID(req.Asset), req.Amount)
	})
}

func (s *Server) amountOperation(w http.ResponseWriter, r *http.Request, operation string, apply func(amountRequest) (uint64, error)) {
	start := time.Now()
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := validateIdentity(req.User, req.Asset); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.checkQuota(lending.AccountRef(req.User), req.Amount); err != nil {
		s.metrics.ObserveError(operation, "quota")
		writeError(w, err)
		return
	}
	shares, err := apply(req)
	if err != nil {
		s.observeFailure(operation, err, start)
		writeError(w, err)
		return
	}
	s.metrics.ObserveRequest(operation, "ok", time.Since(start))
	writeJSON(w, http.StatusOK, sharesResponse{Shares: shares})
}

type borrowRequest struct {
	User            string `json:"user"`
	Asset           string `json:"asset"`
	CollateralAsset string `json:"collateralAsset"`
	Amount          uint64 `json:"amount"`
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req borrowRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := validateIdentity(req.User, req.Asset, req.CollateralAsset); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.checkQuota(lending.AccountRef(req.User), req.Amount); err != nil {
		s.metrics.ObserveError("borrow", "quota")
		writeError(w, err)
		return
	}
	shares, err := s.engine.Borrow(lending.AccountRef(req.User), lending.AssetID(req.Asset), lending.AssetID(req.CollateralAsset), req.Amount)
	if err != nil {
		s.observeFailure("borrow", err, start)
		writeError(w, err)
		return
	}
	s.metrics.ObserveRequest("borrow", "ok", time.Since(start))
	writeJSON(w, http.StatusOK, sharesResponse{Shares: shares})
}

type liquidateRequest struct {
	Liquidator      string `json:"liquidator"`
	Borrower        string `json:"borrower"`
	CollateralAsset string `json:"collateralAsset"`
	BorrowedAsset   string `json:"borrowedAsset"`
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req liquidateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := validateIdentity(req.Liquidator, req.Borrower, req.CollateralAsset, req.BorrowedAsset); err != nil {
		writeBadRequest(w, err)
		return
	}
	outcome, err := s.engine.Liquidate(
		lending.AccountRef(req.Liquidator),
		lending.AccountRef(req.Borrower),
		lending.AssetID(req.CollateralAsset),
		lending.AssetID(req.BorrowedAsset),
	)
	if err != nil {
		s.observeFailure("liquidate", err, start)
		writeError(w, err)
		return
	}
	s.metrics.ObserveRequest("liquidate", "ok", time.Since(start))
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) getBank(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	bank, err := s.engine.Bank(lending.AssetID(asset))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bank)
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	position, err := s.engine.Position(lending.AccountRef(owner))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

func (s *Server) getPositionHealth(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	collateral := r.URL.Query().Get("collateral")
	borrowed := r.URL.Query().Get("borrowed")
	if err := validateIdentity(owner, collateral, borrowed); err != nil {
		writeBadRequest(w, err)
		return
	}
	report, err := s.engine.PositionHealth(lending.AccountRef(owner), lending.AssetID(collateral), lending.AssetID(borrowed))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type priceRequest struct {
	Asset string `json:"asset"`
	Value uint64 `json:"value"`
}

func (s *Server) postPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := validateIdentity(req.Asset); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.feed.Post(lending.AssetID(req.Asset), req.Value, s.clock.Now()); err != nil {
		writeBadRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "posted"})
}

func (s *Server) checkQuota(user lending.AccountRef, amount uint64) error {
	if !s.quota.Enabled() {
		return nil
	}
	epoch := s.quota.EpochOf(s.clock.Now())

	s.quotaMu.Lock()
	defer s.quotaMu.Unlock()
	next, err := s.quota.Apply(s.usage[user], epoch, amount)
	if err != nil {
		return err
	}
	s.usage[user] = next
	return nil
}

func (s *Server) observeFailure(operation string, err error, start time.Time) {
	s.metrics.ObserveRequest(operation, "error", time.Since(start))
	s.metrics.ObserveError(operation, errorReason(err))
	s.log.Warn("lending operation rejected",
		slog.String("operation", operation),
		slog.String("reason", errorReason(err)),
		slog.String("error", err.Error()),
	)
}

func decodeRequest(r *http.Request, out any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, requestLimit))
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func validateIdentity(fields ...string) error {
	for _, field := range fields {
		if strings.TrimSpace(field) == "" {
			return errMissingField
		}
	}
	return nil
}
