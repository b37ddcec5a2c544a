package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kalambet/campusnav/internal/geo"
	"github.com/kalambet/campusnav/internal/pipeline"
	"github.com/kalambet/campusnav/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const serviceName = "Campus Navigator API"

const defaultNearbyLimit = 5

// Processor answers natural-language campus queries.
type Processor interface {
	Process(ctx context.Context, query string, debug bool) (pipeline.QueryResult, error)
}

// CampusStore is the read surface of the knowledge base the REST endpoints use.
type CampusStore interface {
	FindBuilding(ctx context.Context, name string) (*storage.Building, error)
	ListBuildings(ctx context.Context) ([]storage.Building, error)
	GetBuilding(ctx context.Context, id int64) (storage.Building, error)
	SearchBuildings(ctx context.Context, q string) ([]storage.Building, error)
	GetPOIs(ctx context.Context, buildingID int64) ([]storage.POI, error)
	GetRoute(ctx context.Context, fromID, toID int64) (*storage.Route, error)
}

// Deps holds everything the HTTP API needs.
type Deps struct {
	Navigator      Processor
	Store          CampusStore
	Geo            *geo.Index // optional; nearby lookups answer 503 without it
	AllowedOrigins []string
	Version        string
}

// NewHandler returns the campus navigation REST API.
func NewHandler(deps Deps) http.Handler {
	if deps.Version == "" {
		deps.Version = "1.0.0"
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Post("/api", handleQuery(deps.Navigator))
	r.Get("/api/health", handleHealth(deps.Version))
	r.Get("/api/buildings", handleBuildings(deps.Store))
	r.Get("/api/buildings/nearby", handleNearby(deps.Geo))
	r.Get("/api/building/{id}", handleBuilding(deps.Store))
	r.Post("/api/route", handleRoute(deps.Store))
	r.Get("/api/search", handleSearch(deps.Store))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusNotFound, "Endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}

type queryRequest struct {
	Query *string `json:"query"`
	Debug bool    `json:"debug"`
}

func handleQuery(nav Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if err := decodeBody(w, r, &req); err != nil || req.Query == nil {
			if isTooLarge(err) {
				httpError(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			httpError(w, http.StatusBadRequest, "Query is required")
			return
		}
		query := strings.TrimSpace(*req.Query)
		if query == "" {
			httpError(w, http.StatusBadRequest, "Query cannot be empty")
			return
		}

		result, err := nav.Process(r.Context(), query, req.Debug)
		if err != nil {
			slog.Error("query failed", "request_id", result.RequestID, "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to process query")
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func handleHealth(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "healthy",
			"service": serviceName,
			"version": version,
		})
	}
}

func handleBuildings(store CampusStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buildings, err := store.ListBuildings(r.Context())
		if err != nil {
			slog.Error("listing buildings", "error", err)
			httpError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"buildings": buildings,
		})
	}
}

func handleBuilding(store CampusStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpError(w, http.StatusNotFound, "Building not found")
			return
		}

		b, err := store.GetBuilding(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "Building not found")
			return
		}
		if err != nil {
			slog.Error("getting building", "id", id, "error", err)
			httpError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		pois, err := store.GetPOIs(r.Context(), id)
		if err != nil {
			slog.Error("getting POIs", "building_id", id, "error", err)
			httpError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"building": b,
			"pois":     pois,
		})
	}
}

type routeRequest struct {
	FromID *int64 `json:"from_id"`
	ToID   *int64 `json:"to_id"`
}

func handleRoute(store CampusStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req routeRequest
		if err := decodeBody(w, r, &req); err != nil || req.FromID == nil || req.ToID == nil {
			if isTooLarge(err) {
				httpError(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			httpError(w, http.StatusBadRequest, "from_id and to_id are required")
			return
		}

		ctx := r.Context()
		route, err := store.GetRoute(ctx, *req.FromID, *req.ToID)
		if err != nil {
			slog.Error("getting route", "from_id", *req.FromID, "to_id", *req.ToID, "error", err)
			httpError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if route == nil {
			httpError(w, http.StatusNotFound, "No route found between these buildings")
			return
		}

		from, err := store.GetBuilding(ctx, *req.FromID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		to, err := store.GetBuilding(ctx, *req.ToID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"route":         route,
			"from_building": from,
			"to_building":   to,
		})
	}
}

func handleSearch(store CampusStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			httpError(w, http.StatusBadRequest, "Search query is required")
			return
		}

		buildings, err := store.SearchBuildings(r.Context(), q)
		if err != nil {
			slog.Error("searching buildings", "q", q, "error", err)
			httpError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"buildings": buildings,
			"count":     len(buildings),
		})
	}
}

func handleNearby(idx *geo.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if idx == nil {
			httpError(w, http.StatusServiceUnavailable, "Spatial index not available")
			return
		}

		q := r.URL.Query()
		lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
		lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
		if errLat != nil || errLon != nil {
			httpError(w, http.StatusBadRequest, "lat and lon are required")
			return
		}

		limit := defaultNearbyLimit
		if s := q.Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		nearby, err := idx.Nearest(lat, lon, limit)
		if err != nil {
			httpError(w, http.StatusBadRequest, "%v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"buildings": nearby,
		})
	}
}

// decodeBody decodes a JSON request body capped at maxRequestBodySize.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

// writeJSON marshals v before touching the response so an unencodable
// value still yields the error envelope.
func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encoding response", "error", err)
		code = http.StatusInternalServerError
		data = []byte(`{"success":false,"error":"Internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		slog.Warn("writing response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"success": false,
		"error":   fmt.Sprintf(format, args...),
	})
}
