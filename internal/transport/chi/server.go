package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/postmap/internal/domain"
	dombatch "github.com/kailas-cloud/postmap/internal/domain/batch"
	dompost "github.com/kailas-cloud/postmap/internal/domain/post"
	"github.com/kailas-cloud/postmap/internal/domain/search/filter"
	"github.com/kailas-cloud/postmap/internal/domain/search/mode"
	"github.com/kailas-cloud/postmap/internal/domain/search/request"
	domusage "github.com/kailas-cloud/postmap/internal/domain/usage"
	domuser "github.com/kailas-cloud/postmap/internal/domain/user"
	healthuc "github.com/kailas-cloud/postmap/internal/usecase/health"
	mapuc "github.com/kailas-cloud/postmap/internal/usecase/mapview"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server holds the HTTP handlers of the postmap API.
type Server struct {
	users    UserService
	posts    PostService
	search   SearchService
	maps     MapService
	backfill BackfillService
	usage    UsageService
	health   HealthService
	limits   request.Limits
	logger   *zap.Logger

	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	users UserService,
	posts PostService,
	search SearchService,
	maps MapService,
	backfill BackfillService,
	usage UsageService,
	health HealthService,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		users:    users,
		posts:    posts,
		search:   search,
		maps:     maps,
		backfill: backfill,
		usage:    usage,
		health:   health,
		limits:   request.DefaultLimits(),
		logger:   logger,
	}
	// Order matters: embedding failures wrap ErrEncoding together with the
	// provider sentinel, and the provider sentinel decides the status.
	s.errorHandlers = []errorHandler{
		invalidInputHandler,
		sentinelHandler(domain.ErrPostNotFound, http.StatusNotFound, CodePostNotFound),
		sentinelHandler(domain.ErrUserNotFound, http.StatusNotFound, CodeUserNotFound),
		sentinelHandler(domain.ErrUsernameTaken, http.StatusConflict, CodeUsernameTaken),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited),
		sentinelHandler(domain.ErrEmbeddingQuotaExceeded, http.StatusTooManyRequests, CodeEmbeddingQuotaExceeded),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, CodeEmbeddingProviderError),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusInternalServerError, CodeVectorDimMismatch),
		sentinelHandler(domain.ErrEncoding, http.StatusInternalServerError, CodeEncodingError),
		sentinelHandler(domain.ErrCorruptEmbedding, http.StatusInternalServerError, CodeCorruptEmbedding),
		sentinelHandler(domain.ErrIndexMirror, http.StatusServiceUnavailable, CodeIndexUnavailable),
	}
	return s
}

// WithSearchLimits overrides the top_k and min_similarity limits.
func (s *Server) WithSearchLimits(l request.Limits) *Server {
	s.limits = l
	return s
}

// CreateUser handles POST /users.
func (s *Server) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	u, err := s.users.Register(r.Context(), req.Username)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, userToAPI(u))
}

// GetUser handles GET /users/{id}.
func (s *Server) GetUser(w http.ResponseWriter, r *http.Request, id int64) {
	u, err := s.users.Get(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userToAPI(u))
}

// DeleteUser handles DELETE /users/{id}. The user's posts go with them.
func (s *Server) DeleteUser(w http.ResponseWriter, r *http.Request, id int64) {
	if err := s.users.Delete(r.Context(), id); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreatePost handles POST /posts.
func (s *Server) CreatePost(w http.ResponseWriter, r *http.Request) {
	var req CreatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	p, err := s.posts.Create(ctx, dompost.Draft{
		AuthorID:     req.UserID,
		ActivityType: req.ActivityType,
		Status:       req.Status,
		Comment:      req.Comment,
		Title:        req.Title,
		Description:  req.Description,
	})
	setEmbeddingHeaders(w, usage)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, postToAPI(&p))
}

// ListPosts handles GET /posts.
func (s *Server) ListPosts(w http.ResponseWriter, r *http.Request, params ListPostsParams) {
	authorID := derefInt64(params.AuthorID)
	if authorID < 0 {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "author_id must not be negative")
		return
	}

	posts, err := s.posts.List(r.Context(), authorID, derefInt(params.Limit), derefInt(params.Offset))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]PostResponse, len(posts))
	for i := range posts {
		items[i] = postToAPI(&posts[i])
	}
	writeJSON(w, http.StatusOK, PostListResponse{Items: items})
}

// GetPost handles GET /posts/{id}.
func (s *Server) GetPost(w http.ResponseWriter, r *http.Request, id int64) {
	p, err := s.posts.Get(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, postToAPI(&p))
}

// DeletePost handles DELETE /posts/{id}.
func (s *Server) DeletePost(w http.ResponseWriter, r *http.Request, id int64) {
	if err := s.posts.Delete(r.Context(), id); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles POST /search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request, params SearchParams) {
	opts, err := searchOptions(params.Backend, params.AuthorID, params.Status, params.TopK)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}
	opts.MinSimilarity = params.MinSimilarity

	req, err := request.New(params.Query, opts, s.limits)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	s.runSearch(w, r.WithContext(ctx), usage, &req)
}

// SimilarPosts handles GET /posts/{id}/similar.
func (s *Server) SimilarPosts(w http.ResponseWriter, r *http.Request, id int64, params SimilarPostsParams) {
	opts, err := searchOptions(params.Backend, params.AuthorID, params.Status, params.TopK)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}

	req, err := request.NewSimilar(id, opts, s.limits)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}
	s.runSearch(w, r, nil, &req)
}

func (s *Server) runSearch(w http.ResponseWriter, r *http.Request, usage *domain.EmbeddingUsage, req *request.Request) {
	hits, err := s.search.Search(r.Context(), req)
	setEmbeddingHeaders(w, usage)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	resp := SearchResponse{Hits: make([]SearchHit, len(hits))}
	for i := range hits {
		p := hits[i].Post()
		resp.Hits[i] = SearchHit{Post: postToAPI(&p), Score: hits[i].Score()}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetMap handles GET /map. Without a query every embedded post is laid out;
// with one, only its search hits are. cached=true serves the stored
// coordinates without recomputing.
func (s *Server) GetMap(w http.ResponseWriter, r *http.Request, params GetMapParams) {
	if derefBool(params.Cached) {
		view, err := s.maps.Cached(r.Context())
		if err != nil {
			s.handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, mapToAPI(view))
		return
	}

	var q *request.Request
	if params.Query != nil {
		req, err := request.New(*params.Query, request.Options{TopK: derefInt(params.TopK)}, s.limits)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
			return
		}
		q = &req
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	view, err := s.maps.Build(ctx, q)
	setEmbeddingHeaders(w, usage)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapToAPI(view))
}

// Backfill handles POST /admin/backfill.
func (s *Server) Backfill(w http.ResponseWriter, r *http.Request) {
	ctx, usage := domain.NewContextWithUsage(r.Context())
	report, err := s.backfill.Run(ctx)
	setEmbeddingHeaders(w, usage)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	resp := BackfillResponse{
		Embedded:     report.Summary.OK,
		Unchanged:    report.Summary.Skipped,
		Failed:       report.Summary.Failed,
		Mirrored:     report.Mirrored,
		MirrorFailed: report.MirrorFailed,
		Corpus: CorpusCounts{
			Posts:    report.Corpus.Posts,
			Embedded: report.Corpus.Embedded,
		},
	}
	if report.Corpus.IndexCounted {
		indexed := report.Corpus.Indexed
		resp.Corpus.Indexed = &indexed
	}
	for _, res := range report.Results {
		if res.Status() != dombatch.StatusError {
			continue
		}
		resp.Errors = append(resp.Errors, BackfillItemError{
			PostID:  res.PostID(),
			Code:    errorCode(res.Err()),
			Message: safeDomainMessage(res.Err()),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetUsage handles GET /usage.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request, params GetUsageParams) {
	var raw string
	if params.Period != nil {
		raw = *params.Period
	}
	period, err := domusage.ParsePeriod(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}

	report := s.usage.GetReport(r.Context(), period)
	b := report.Budget()
	writeJSON(w, http.StatusOK, UsageResponse{
		Period:          string(report.Period()),
		Provider:        report.Provider(),
		PeriodStartAt:   report.PeriodStart().UTC(),
		PeriodEndAt:     report.PeriodEnd().UTC(),
		TokensUsed:      report.TokensUsed(),
		TokensLimit:     b.TokensLimit(),
		TokensRemaining: b.TokensRemaining(),
		IsExhausted:     b.IsExhausted(),
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	var latency map[string]int64
	if len(report.Latency) > 0 {
		latency = make(map[string]int64, len(report.Latency))
		for k, d := range report.Latency {
			latency[k] = d.Milliseconds()
		}
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status:    string(report.Status),
		Checks:    checks,
		LatencyMS: latency,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	if usage.Calls() > 0 {
		w.Header().Set("X-Embedding-Tokens", strconv.FormatInt(usage.Tokens(), 10))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrPostNotFound,
		domain.ErrUserNotFound,
		domain.ErrUsernameTaken,
		domain.ErrRateLimited,
		domain.ErrEmbeddingQuotaExceeded,
		domain.ErrEmbeddingProviderError,
		domain.ErrVectorDimMismatch,
		domain.ErrEncoding,
		domain.ErrCorruptEmbedding,
		domain.ErrIndexMirror,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// invalidInputHandler reports validation failures with their full message;
// they describe the caller's input, not server state.
func invalidInputHandler(w http.ResponseWriter, err error, _ string) bool {
	if !errors.Is(err, domain.ErrInvalidInput) {
		return false
	}
	writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}

func searchOptions(backend *string, authorID *int64, status *string, topK *int) (request.Options, error) {
	var opts request.Options
	if backend != nil {
		b, err := mode.Parse(*backend)
		if err != nil {
			return opts, err
		}
		opts.Backend = b
	}
	var rawStatus string
	if status != nil {
		rawStatus = *status
	}
	f, err := filter.New(derefInt64(authorID), rawStatus)
	if err != nil {
		return opts, err
	}
	opts.Filter = f
	opts.TopK = derefInt(topK)
	return opts, nil
}

func userToAPI(u domuser.User) UserResponse {
	return UserResponse{
		ID:        u.ID(),
		Username:  u.Username(),
		CreatedAt: u.CreatedAt().UTC(),
	}
}

func postToAPI(p *dompost.Post) PostResponse {
	resp := PostResponse{
		ID:           p.ID(),
		UserID:       p.AuthorID(),
		ActivityType: p.ActivityType(),
		Status:       string(p.Status()),
		Comment:      p.Comment(),
		Title:        p.Title(),
		Description:  p.Description(),
		CreatedAt:    p.CreatedAt().UTC(),
	}
	if x, y, ok := p.Coordinates(); ok {
		resp.X, resp.Y = &x, &y
	}
	return resp
}

func mapToAPI(v mapuc.View) MapResponse {
	resp := MapResponse{
		LayoutID: v.LayoutID,
		Strategy: v.Strategy,
		Skipped: MapSkipped{
			Corrupt:     v.Skipped.Corrupt,
			NonFinite:   v.Skipped.NonFinite,
			WriteFailed: v.Skipped.WriteFailed,
		},
		Entries: make([]MapEntry, len(v.Entries)),
	}
	for i, e := range v.Entries {
		resp.Entries[i] = MapEntry{
			ID:          e.ID,
			Title:       e.Title,
			Description: e.Description,
			X:           e.X,
			Y:           e.Y,
			Status:      string(e.Status),
		}
	}
	return resp
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func derefBool(p *bool) bool {
	if p == nil {
		return false
	}
	return *p
}

func errorCode(err error) ErrorCode {
	switch {
	case errors.Is(err, domain.ErrPostNotFound):
		return CodePostNotFound
	case errors.Is(err, domain.ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, domain.ErrEmbeddingQuotaExceeded):
		return CodeEmbeddingQuotaExceeded
	case errors.Is(err, domain.ErrEmbeddingProviderError):
		return CodeEmbeddingProviderError
	case errors.Is(err, domain.ErrVectorDimMismatch):
		return CodeVectorDimMismatch
	case errors.Is(err, domain.ErrEncoding):
		return CodeEncodingError
	case errors.Is(err, domain.ErrCorruptEmbedding):
		return CodeCorruptEmbedding
	default:
		return CodeInternalError
	}
}
