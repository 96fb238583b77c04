package dictionary

import "fmt"

// ExtractionInstruction is the system instruction sent with every chunk.
const ExtractionInstruction = `You extract implementable components, systems and logic from structured or
semi-structured documents: game design documents, UI/UX designs, technical
specifications, feature descriptions, balance notes and tooling docs.

Extract ONLY concepts that can be implemented in code, engine logic or data
configuration.

EXTRACT
1. Components: UI elements, gameplay entities, input handlers, sounds, effects,
   data objects, configuration units.
2. Systems: state machines, managers, controllers, validation, transactions,
   persistence, networking, rendering, input routing, event dispatch.
3. Rules and constraints: pre/post conditions, exceptions, priority rules,
   ally/enemy distinctions, per-mode differences.
4. Interactions and flows: user interactions, mode switches, action chains and
   state transitions.
5. Data and configuration: stats, costs, cooldowns, balance parameters,
   mappings (world to UI, input to action).

EXCLUDE
- High-level vision with no executable logic.
- Purely artistic or narrative description.
- Vague guidance that cannot become behaviour.
- The same logic restated at several levels of wording.

LANGUAGE AND EVIDENCE
- Write names and aliases in Vietnamese; keep English terms used by the
  document as aliases.
- Every component needs explicit evidence (one or two sentences or a table
  row) quoted from the current chunk.
- Include doc_id and section_path when known.

OUTPUT
Return ONLY a JSON object of this exact shape:
{
  "components": [
    {
      "display_name_vi": "string",
      "aliases_vi": ["string"],
      "evidence": [
        {
          "evidence_text_vi": "string",
          "doc_id": "string",
          "section_path": "string",
          "source_language": "vi|en",
          "confidence_score": 0.0
        }
      ]
    }
  ]
}`

// BuildChunkPrompt renders the user prompt for one chunk.
func BuildChunkPrompt(chunk Chunk) string {
	return fmt.Sprintf("Chunk (doc_id=%s, section=%s):\n\n%s\n\nReturn the JSON.", chunk.DocID, chunk.SectionPath, chunk.Content)
}
