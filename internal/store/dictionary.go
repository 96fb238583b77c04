package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/aaronlee0321/unified-rag/internal/dictionary"
)

// ReferenceBatchSize caps the rows written by one reference INSERT.
const ReferenceBatchSize = dictionary.DefaultReferenceBatchSize

const upsertComponentSQL = `
INSERT INTO dictionary_components (component_key, display_name_vi, aliases_vi, created_at, updated_at)
VALUES ($1,$2,$3,NOW(),NOW())
ON CONFLICT (component_key) DO UPDATE SET
  display_name_vi = EXCLUDED.display_name_vi,
  aliases_vi = ARRAY(
    SELECT a FROM unnest(dictionary_components.aliases_vi || EXCLUDED.aliases_vi) WITH ORDINALITY AS t(a, n)
    GROUP BY a ORDER BY MIN(n)
  ),
  updated_at = NOW()
RETURNING component_key, display_name_vi, aliases_vi, created_at, updated_at
`

// UpsertComponent creates or updates a component. The display name is
// replaced; the alias summary becomes the ordered union of stored and new
// aliases so rebuilding one document never drops aliases learned from another.
func (s *Store) UpsertComponent(ctx context.Context, key, displayName string, aliases []string) (dictionary.ComponentRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return dictionary.ComponentRecord{}, fmt.Errorf("component_key required")
	}
	if aliases == nil {
		aliases = []string{}
	}
	var rec dictionary.ComponentRecord
	var stored pq.StringArray
	row := s.DB.QueryRowContext(ctx, upsertComponentSQL, key, displayName, pq.Array(aliases))
	if err := row.Scan(&rec.Key, &rec.DisplayName, &stored, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return dictionary.ComponentRecord{}, fmt.Errorf("upsert component %s: %w", key, err)
	}
	rec.Aliases = []string(stored)
	if rec.Aliases == nil {
		rec.Aliases = []string{}
	}
	return rec, nil
}

const insertAliasesSQL = `
INSERT INTO dictionary_aliases (component_key, alias_vi, source)
SELECT $1, t.alias, t.source FROM unnest($2::text[], $3::text[]) AS t(alias, source)
ON CONFLICT (component_key, alias_vi) DO NOTHING
`

// InsertAliases records alias rows for a component and returns how many were
// new. Aliases already stored for the component are skipped.
func (s *Store) InsertAliases(ctx context.Context, key string, aliases []dictionary.Alias) (int, error) {
	texts := make([]string, 0, len(aliases))
	sources := make([]string, 0, len(aliases))
	for _, a := range aliases {
		text := strings.TrimSpace(a.Text)
		if text == "" {
			continue
		}
		source := a.Source
		if source == "" {
			source = dictionary.AliasSourceLLM
		}
		texts = append(texts, text)
		sources = append(sources, string(source))
	}
	if len(texts) == 0 {
		return 0, nil
	}
	res, err := s.DB.ExecContext(ctx, insertAliasesSQL, key, pq.Array(texts), pq.Array(sources))
	if err != nil {
		return 0, fmt.Errorf("insert aliases %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

const insertReferencesSQL = `
INSERT INTO dictionary_references (component_key, evidence_text_vi, doc_id, section_path, source_language, confidence_score)
SELECT $1, t.evidence, t.doc_id, NULLIF(t.section_path, ''), t.source_language, t.confidence
FROM unnest($2::text[], $3::text[], $4::text[], $5::text[], $6::float8[]) AS t(evidence, doc_id, section_path, source_language, confidence)
`

// InsertReferences writes evidence rows for a component in batches of at most
// ReferenceBatchSize rows, all inside one transaction.
func (s *Store) InsertReferences(ctx context.Context, key string, refs []dictionary.EvidenceItem) (n int, err error) {
	if len(refs) == 0 {
		return 0, nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			n = 0
			return
		}
		err = tx.Commit()
		if err != nil {
			n = 0
		}
	}()

	for start := 0; start < len(refs); start += ReferenceBatchSize {
		end := start + ReferenceBatchSize
		if end > len(refs) {
			end = len(refs)
		}
		batch := refs[start:end]
		texts := make([]string, len(batch))
		docs := make([]string, len(batch))
		sections := make([]string, len(batch))
		langs := make([]string, len(batch))
		scores := make([]float64, len(batch))
		for i, r := range batch {
			texts[i] = r.EvidenceText
			docs[i] = r.DocID
			sections[i] = r.SectionPath
			langs[i] = r.SourceLanguage
			scores[i] = r.ConfidenceScore
		}
		res, execErr := tx.ExecContext(ctx, insertReferencesSQL, key, pq.Array(texts), pq.Array(docs), pq.Array(sections), pq.Array(langs), pq.Array(scores))
		if execErr != nil {
			err = fmt.Errorf("insert references %s [%d:%d]: %w", key, start, end, execErr)
			return 0, err
		}
		affected, raErr := res.RowsAffected()
		if raErr != nil {
			err = raErr
			return 0, err
		}
		n += int(affected)
	}
	return n, nil
}

// DeleteReferencesByDoc removes every reference citing docID.
func (s *Store) DeleteReferencesByDoc(ctx context.Context, docID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM dictionary_references WHERE doc_id = $1`, docID)
	if err != nil {
		return fmt.Errorf("delete references for doc %s: %w", docID, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		s.logf("deleted %d references for doc %s", n, docID)
	}
	return nil
}

const componentColumns = `component_key, display_name_vi, aliases_vi, created_at, updated_at`

// GetComponent returns the component stored under key or dictionary.ErrNotFound.
func (s *Store) GetComponent(ctx context.Context, key string) (dictionary.ComponentRecord, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+componentColumns+` FROM dictionary_components WHERE component_key = $1`, key)
	rec, err := scanComponent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return dictionary.ComponentRecord{}, dictionary.ErrNotFound
	}
	return rec, err
}

// ListComponents returns up to limit components ordered by key.
func (s *Store) ListComponents(ctx context.Context, limit int) ([]dictionary.ComponentRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+componentColumns+` FROM dictionary_components ORDER BY component_key LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanComponents(rows)
}

// FindComponents returns candidate components for a free-text query: an exact
// key match, or a display name or alias that contains the query or is
// contained in it. Matching is case-insensitive.
func (s *Store) FindComponents(ctx context.Context, query string, limit int) ([]dictionary.ComponentRecord, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+componentColumns+`
FROM dictionary_components c
WHERE lower(c.component_key) = lower($1)
   OR c.display_name_vi ILIKE $2 ESCAPE '\'
   OR strpos(lower($1), lower(c.display_name_vi)) > 0
   OR EXISTS (
     SELECT 1 FROM unnest(c.aliases_vi) AS a(alias)
     WHERE a.alias <> '' AND (a.alias ILIKE $2 ESCAPE '\' OR strpos(lower($1), lower(a.alias)) > 0)
   )
ORDER BY c.component_key
LIMIT $3
`, query, pattern, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanComponents(rows)
}

// ComponentNames maps each known key to its display name.
func (s *Store) ComponentNames(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT component_key, display_name_vi FROM dictionary_components WHERE component_key = ANY($1)`, pq.Array(keys))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var key, name string
		if err := rows.Scan(&key, &name); err != nil {
			return nil, err
		}
		out[key] = name
	}
	return out, rows.Err()
}

const referenceColumns = `id, component_key, evidence_text_vi, doc_id, section_path, source_language, confidence_score, created_at`

// ListReferences returns up to limit references for a component, oldest first.
func (s *Store) ListReferences(ctx context.Context, key string, limit int) ([]dictionary.ReferenceRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+referenceColumns+` FROM dictionary_references WHERE component_key = $1 ORDER BY id LIMIT $2`, key, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReferences(rows)
}

// ListReferencesByDoc returns up to limit references citing docID.
func (s *Store) ListReferencesByDoc(ctx context.Context, docID string, limit int) ([]dictionary.ReferenceRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+referenceColumns+` FROM dictionary_references WHERE doc_id = $1 ORDER BY component_key, id LIMIT $2`, docID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReferences(rows)
}

// ListAliases returns the alias rows recorded for a component.
func (s *Store) ListAliases(ctx context.Context, key string) ([]dictionary.Alias, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT alias_vi, source FROM dictionary_aliases WHERE component_key = $1 ORDER BY id`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []dictionary.Alias
	for rows.Next() {
		var a dictionary.Alias
		var source string
		if err := rows.Scan(&a.Text, &source); err != nil {
			return nil, err
		}
		a.Source = dictionary.AliasSource(source)
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanComponent(row rowScanner) (dictionary.ComponentRecord, error) {
	var rec dictionary.ComponentRecord
	var aliases pq.StringArray
	if err := row.Scan(&rec.Key, &rec.DisplayName, &aliases, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return dictionary.ComponentRecord{}, err
	}
	rec.Aliases = []string(aliases)
	if rec.Aliases == nil {
		rec.Aliases = []string{}
	}
	return rec, nil
}

func scanComponents(rows *sql.Rows) ([]dictionary.ComponentRecord, error) {
	var out []dictionary.ComponentRecord
	for rows.Next() {
		rec, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanReferences(rows *sql.Rows) ([]dictionary.ReferenceRecord, error) {
	var out []dictionary.ReferenceRecord
	for rows.Next() {
		var rec dictionary.ReferenceRecord
		var section, lang sql.NullString
		var score sql.NullFloat64
		if err := rows.Scan(&rec.ID, &rec.ComponentKey, &rec.EvidenceText, &rec.DocID, &section, &lang, &score, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.SectionPath = section.String
		rec.SourceLanguage = lang.String
		rec.ConfidenceScore = score.Float64
		out = append(out, rec)
	}
	return out, rows.Err()
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
