package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/aaronlee0321/unified-rag/internal/dictionary"
)

// Rebuilder rebuilds the dictionary for one document.
type Rebuilder interface {
	Rebuild(ctx context.Context, docID string) (dictionary.RebuildResult, error)
}

// Catalog answers read queries against the dictionary.
type Catalog interface {
	ListComponents(ctx context.Context, limit int) ([]dictionary.ComponentRecord, error)
	Lookup(ctx context.Context, key string, limit int) (dictionary.LookupResult, error)
	Search(ctx context.Context, query string, limit int) (dictionary.LookupResult, error)
	Inspect(ctx context.Context, docID string, limit int) ([]dictionary.ReferenceGroup, error)
}

// DictionaryHandler exposes rebuild and lookup endpoints.
type DictionaryHandler struct {
	Rebuilder Rebuilder
	Catalog   Catalog
}

// Register mounts the routes on g. writeMW guards the rebuild route and
// readMW guards the lookups.
func (h *DictionaryHandler) Register(g *echo.Group, writeMW, readMW []echo.MiddlewareFunc) {
	if h.Rebuilder != nil {
		g.POST("/documents/:doc_id/rebuild", h.rebuild, writeMW...)
	}
	if h.Catalog != nil {
		g.GET("/documents/:doc_id/references", h.documentReferences, readMW...)
		g.GET("/components", h.listComponents, readMW...)
		g.GET("/components/:key", h.getComponent, readMW...)
		g.GET("/search", h.search, readMW...)
	}
}

// @Summary Rebuild the dictionary for a document
// @Tags dictionary
// @Produce json
// @Param doc_id path string true "Document ID"
// @Success 200 {object} dictionary.RebuildResult
// @Failure 400 {object} dictionary.RebuildResult
// @Failure 404 {object} dictionary.RebuildResult
// @Failure 500 {object} dictionary.RebuildResult
// @Router /api/dictionary/documents/{doc_id}/rebuild [post]
func (h *DictionaryHandler) rebuild(c echo.Context) error {
	docID := strings.TrimSpace(c.Param("doc_id"))
	if docID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "doc_id required")
	}
	res, err := h.Rebuilder.Rebuild(c.Request().Context(), docID)
	if err != nil {
		return c.JSON(rebuildStatus(err), res)
	}
	return c.JSON(http.StatusOK, res)
}

func rebuildStatus(err error) int {
	var rerr *dictionary.RebuildError
	switch {
	case errors.Is(err, dictionary.ErrNoChunks):
		return http.StatusNotFound
	case errors.As(err, &rerr) && rerr.Stage == dictionary.StageValidate:
		return http.StatusBadRequest
	case errors.As(err, &rerr) && (rerr.Stage == dictionary.StageCancelled || rerr.Stage == dictionary.StageLock):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// @Summary List a document's references grouped by component
// @Tags dictionary
// @Produce json
// @Param doc_id path string true "Document ID"
// @Param limit query int false "Max references"
// @Success 200 {object} DocumentReferencesResponse
// @Router /api/dictionary/documents/{doc_id}/references [get]
func (h *DictionaryHandler) documentReferences(c echo.Context) error {
	docID := strings.TrimSpace(c.Param("doc_id"))
	if docID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "doc_id required")
	}
	groups, err := h.Catalog.Inspect(c.Request().Context(), docID, queryLimit(c))
	if err != nil {
		return err
	}
	total := 0
	for _, g := range groups {
		total += len(g.References)
	}
	if groups == nil {
		groups = []dictionary.ReferenceGroup{}
	}
	return c.JSON(http.StatusOK, DocumentReferencesResponse{DocID: docID, Groups: groups, Total: total})
}

// @Summary List components
// @Tags dictionary
// @Produce json
// @Param limit query int false "Max components"
// @Success 200 {object} ComponentListResponse
// @Router /api/dictionary/components [get]
func (h *DictionaryHandler) listComponents(c echo.Context) error {
	comps, err := h.Catalog.ListComponents(c.Request().Context(), queryLimit(c))
	if err != nil {
		return err
	}
	if comps == nil {
		comps = []dictionary.ComponentRecord{}
	}
	return c.JSON(http.StatusOK, ComponentListResponse{Components: comps, Count: len(comps)})
}

// @Summary Get a component by key
// @Tags dictionary
// @Produce json
// @Param key path string true "Component key"
// @Param limit query int false "Max references"
// @Success 200 {object} dictionary.LookupResult
// @Failure 404 {object} HTTPError
// @Router /api/dictionary/components/{key} [get]
func (h *DictionaryHandler) getComponent(c echo.Context) error {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "key required")
	}
	res, err := h.Catalog.Lookup(c.Request().Context(), key, queryLimit(c))
	if err != nil {
		if errors.Is(err, dictionary.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "component not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// @Summary Find the best matching component for a term
// @Tags dictionary
// @Produce json
// @Param q query string true "Query"
// @Param limit query int false "Max references"
// @Success 200 {object} dictionary.LookupResult
// @Failure 404 {object} HTTPError
// @Router /api/dictionary/search [get]
func (h *DictionaryHandler) search(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	res, err := h.Catalog.Search(c.Request().Context(), q, queryLimit(c))
	if err != nil {
		if errors.Is(err, dictionary.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no matching component")
		}
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// queryLimit parses ?limit=, leaving clamping to the catalog.
func queryLimit(c echo.Context) int {
	n, _ := strconv.Atoi(c.QueryParam("limit"))
	return n
}
