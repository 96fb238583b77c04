package server

import "github.com/aaronlee0321/unified-rag/internal/dictionary"

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// ComponentListResponse wraps a component listing.
type ComponentListResponse struct {
	Components []dictionary.ComponentRecord `json:"components"`
	Count      int                          `json:"count"`
}

// DocumentReferencesResponse lists one document's references grouped by component.
type DocumentReferencesResponse struct {
	DocID  string                      `json:"doc_id"`
	Groups []dictionary.ReferenceGroup `json:"groups"`
	Total  int                         `json:"total"`
}
