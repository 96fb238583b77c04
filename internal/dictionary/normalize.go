package dictionary

import "strings"

// Normalize cleans a candidate using DeriveKey.
func Normalize(c Candidate) NormalizedComponent {
	return NormalizeWith(c, DeriveKey)
}

// NormalizeWith cleans a candidate into canonical shape. It never fails: an
// empty display name is replaced by the derived key, blank aliases are
// dropped and evidence without text is discarded. The key and the blank
// checks use the trimmed text as returned by the model; PlainText only
// affects the stored values.
func NormalizeWith(c Candidate, keyFn KeyFunc) NormalizedComponent {
	if keyFn == nil {
		keyFn = DeriveKey
	}
	trimmed := strings.TrimSpace(c.DisplayName)
	key := keyFn(trimmed)
	if key == "" {
		key = UnnamedComponent
	}
	display := PlainText(trimmed)
	if display == "" {
		display = key
	}

	aliases := make([]string, 0, len(c.Aliases))
	seen := make(map[string]struct{}, len(c.Aliases))
	for _, a := range c.Aliases {
		if strings.TrimSpace(a) == "" {
			continue
		}
		a = PlainText(a)
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		aliases = append(aliases, a)
	}

	evidence := make([]EvidenceItem, 0, len(c.Evidence))
	for _, ev := range c.Evidence {
		if strings.TrimSpace(ev.EvidenceText) == "" {
			continue
		}
		ev.EvidenceText = PlainText(ev.EvidenceText)
		evidence = append(evidence, ev)
	}

	return NormalizedComponent{
		Key:         key,
		DisplayName: display,
		Aliases:     aliases,
		Evidence:    evidence,
	}
}
