package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/aaronlee0321/unified-rag/internal/dictionary"
)

// LoadChunks returns every chunk of the given documents in document order,
// then chunk order. Blank chunks are returned too.
func (s *Store) LoadChunks(ctx context.Context, docIDs []string) ([]dictionary.Chunk, error) {
	if len(docIDs) == 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT doc_id, section_path, content
FROM document_chunks
WHERE doc_id = ANY($1)
ORDER BY doc_id, chunk_index
`, pq.Array(docIDs))
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	defer rows.Close()

	var out []dictionary.Chunk
	for rows.Next() {
		var ch dictionary.Chunk
		var section sql.NullString
		if err := rows.Scan(&ch.DocID, &section, &ch.Content); err != nil {
			return nil, err
		}
		ch.SectionPath = section.String
		out = append(out, ch)
	}
	return out, rows.Err()
}
