package chi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// ListPostsParams are the query parameters of GET /posts.
type ListPostsParams struct {
	AuthorID *int64
	Limit    *int
	Offset   *int
}

// SearchParams are the query parameters of POST /search.
type SearchParams struct {
	Query         string
	TopK          *int
	Backend       *string
	AuthorID      *int64
	Status        *string
	MinSimilarity *float64
}

// SimilarPostsParams are the query parameters of GET /posts/{id}/similar.
type SimilarPostsParams struct {
	TopK     *int
	Backend  *string
	AuthorID *int64
	Status   *string
}

// GetMapParams are the query parameters of GET /map.
type GetMapParams struct {
	Query  *string
	TopK   *int
	Cached *bool
}

// GetUsageParams are the query parameters of GET /usage.
type GetUsageParams struct {
	Period *string
}

// RouterOptions configures Handler.
type RouterOptions struct {
	// BaseRouter receives the routes; a new chi router is used when nil.
	BaseRouter chi.Router
	// ErrorHandlerFunc answers requests whose parameters fail to bind.
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// ParamError reports a path or query parameter that could not be parsed.
type ParamError struct {
	Param string
	Err   error
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid format for parameter %s: %v", e.Param, e.Err)
}

func (e *ParamError) Unwrap() error { return e.Err }

// Handler mounts every API route of s.
func Handler(s *Server, opts RouterOptions) http.Handler {
	r := opts.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	errFn := opts.ErrorHandlerFunc
	if errFn == nil {
		errFn = func(w http.ResponseWriter, _ *http.Request, err error) {
			writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		}
	}
	wr := &wrapper{s: s, errFn: errFn}

	r.Post("/users", s.CreateUser)
	r.Get("/users/{id}", wr.GetUser)
	r.Delete("/users/{id}", wr.DeleteUser)

	r.Post("/posts", s.CreatePost)
	r.Get("/posts", wr.ListPosts)
	r.Get("/posts/{id}", wr.GetPost)
	r.Delete("/posts/{id}", wr.DeletePost)
	r.Get("/posts/{id}/similar", wr.SimilarPosts)

	r.Post("/search", wr.Search)
	r.Get("/map", wr.GetMap)

	r.Post("/admin/backfill", s.Backfill)
	r.Get("/usage", wr.GetUsage)

	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	return r
}

// wrapper binds path and query parameters before calling the handler.
type wrapper struct {
	s     *Server
	errFn func(w http.ResponseWriter, r *http.Request, err error)
}

func (wr *wrapper) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	var id int64
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		wr.errFn(w, r, &ParamError{Param: "id", Err: err})
		return 0, false
	}
	return id, true
}

// bindQuery binds each named form-style query parameter into its destination.
func (wr *wrapper) bindQuery(w http.ResponseWriter, r *http.Request, required map[string]bool, dests map[string]any) bool {
	q := r.URL.Query()
	for name, dest := range dests {
		if err := runtime.BindQueryParameter("form", true, required[name], name, q, dest); err != nil {
			wr.errFn(w, r, &ParamError{Param: name, Err: err})
			return false
		}
	}
	return true
}

func (wr *wrapper) GetUser(w http.ResponseWriter, r *http.Request) {
	if id, ok := wr.pathID(w, r); ok {
		wr.s.GetUser(w, r, id)
	}
}

func (wr *wrapper) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if id, ok := wr.pathID(w, r); ok {
		wr.s.DeleteUser(w, r, id)
	}
}

func (wr *wrapper) GetPost(w http.ResponseWriter, r *http.Request) {
	if id, ok := wr.pathID(w, r); ok {
		wr.s.GetPost(w, r, id)
	}
}

func (wr *wrapper) DeletePost(w http.ResponseWriter, r *http.Request) {
	if id, ok := wr.pathID(w, r); ok {
		wr.s.DeletePost(w, r, id)
	}
}

func (wr *wrapper) ListPosts(w http.ResponseWriter, r *http.Request) {
	var p ListPostsParams
	ok := wr.bindQuery(w, r, nil, map[string]any{
		"author_id": &p.AuthorID,
		"limit":     &p.Limit,
		"offset":    &p.Offset,
	})
	if ok {
		wr.s.ListPosts(w, r, p)
	}
}

func (wr *wrapper) SimilarPosts(w http.ResponseWriter, r *http.Request) {
	id, ok := wr.pathID(w, r)
	if !ok {
		return
	}
	var p SimilarPostsParams
	ok = wr.bindQuery(w, r, nil, map[string]any{
		"top_k":     &p.TopK,
		"backend":   &p.Backend,
		"author_id": &p.AuthorID,
		"status":    &p.Status,
	})
	if ok {
		wr.s.SimilarPosts(w, r, id, p)
	}
}

func (wr *wrapper) Search(w http.ResponseWriter, r *http.Request) {
	var p SearchParams
	ok := wr.bindQuery(w, r, map[string]bool{"query": true}, map[string]any{
		"query":          &p.Query,
		"top_k":          &p.TopK,
		"backend":        &p.Backend,
		"author_id":      &p.AuthorID,
		"status":         &p.Status,
		"min_similarity": &p.MinSimilarity,
	})
	if ok {
		wr.s.Search(w, r, p)
	}
}

func (wr *wrapper) GetMap(w http.ResponseWriter, r *http.Request) {
	var p GetMapParams
	ok := wr.bindQuery(w, r, nil, map[string]any{
		"query":  &p.Query,
		"top_k":  &p.TopK,
		"cached": &p.Cached,
	})
	if ok {
		wr.s.GetMap(w, r, p)
	}
}

func (wr *wrapper) GetUsage(w http.ResponseWriter, r *http.Request) {
	var p GetUsageParams
	if wr.bindQuery(w, r, nil, map[string]any{"period": &p.Period}) {
		wr.s.GetUsage(w, r, p)
	}
}
