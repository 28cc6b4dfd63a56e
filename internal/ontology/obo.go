package ontology

import (
	"bufio"
	"io"
	"regexp"
	"strings"
)

var quotedRx = regexp.MustCompile(`"([^"]*)"`)

// extractQuoted pulls the first double-quoted segment out of an OBO
// synonym/def line (e.g. `synonym: "lung carcinoma" EXACT []`), falling back
// to the trimmed raw text when no quotes are present. Mirrors
// original_source/src/geo_cleaner/ontology_bundle.py's _extract_quoted.
func extractQuoted(line string) string {
	m := quotedRx.FindStringSubmatch(line)
	if m != nil {
		return m[1]
	}
	return strings.TrimSpace(line)
}

// oboStanza is one `[Term]` block's raw tag/value pairs, tag repeated for
// multi-valued fields (synonym, def can each appear, def is single-valued
// in practice but tolerated as a list here).
type oboStanza struct {
	id       string
	name     string
	synonyms []string
	defs     []string
}

// parseOBO reads a minimal subset of the OBO 1.4 stanza format: `[Term]`
// blocks containing `tag: value` lines, each running until the next stanza
// header or end of input (blank lines are skipped). Unknown tags are
// ignored. This is a deliberately
// narrow parser (the pack carries no pure-Go OBO library comparable to
// Python's obonet) covering exactly the tags ontology_bundle.py reads:
// id, name, synonym, def, and is_obsolete.
func parseOBO(r io.Reader) ([]oboStanza, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var stanzas []oboStanza
	var cur *oboStanza
	inTerm := false
	obsolete := false

	flush := func() {
		if cur != nil && !obsolete && cur.id != "" {
			stanzas = append(stanzas, *cur)
		}
		cur = nil
		obsolete = false
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			flush()
			inTerm = trimmed == "[Term]"
			if inTerm {
				cur = &oboStanza{}
			}
			continue
		}
		if !inTerm || cur == nil {
			continue
		}

		colon := strings.Index(trimmed, ":")
		if colon < 0 {
			continue
		}
		tag := strings.TrimSpace(trimmed[:colon])
		value := strings.TrimSpace(trimmed[colon+1:])

		switch tag {
		case "id":
			cur.id = value
		case "name":
			cur.name = value
		case "synonym":
			cur.synonyms = append(cur.synonyms, extractQuoted(value))
		case "def":
			cur.defs = append(cur.defs, extractQuoted(value))
		case "is_obsolete":
			if value == "true" {
				obsolete = true
			}
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return stanzas, nil
}
