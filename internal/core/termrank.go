package core

import (
	"bytes"
	"encoding/json"
	"sort"
)

// MarshalJSON writes each term group with its terms ranked by descending
// occurrence count, ties broken by term name. The persisted statistics read
// top-down from the strongest signal and diff cleanly across runs. The output
// is a plain JSON object, so it unmarshals back into the map fields.
func (t TopicTerms) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"keywords":`)
	if err := writeRankedTerms(&buf, t.Keywords); err != nil {
		return nil, err
	}
	buf.WriteString(`,"phrases":`)
	if err := writeRankedTerms(&buf, t.Phrases); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeRankedTerms(buf *bytes.Buffer, terms map[string]TermEntry) error {
	buf.WriteByte('{')
	for i, name := range RankTerms(terms) {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		entry, err := json.Marshal(terms[name])
		if err != nil {
			return err
		}
		buf.Write(entry)
	}
	buf.WriteByte('}')
	return nil
}

// RankTerms orders term names by descending occurrences, ties lexically.
func RankTerms(terms map[string]TermEntry) []string {
	names := make([]string, 0, len(terms))
	for name := range terms {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := terms[names[i]], terms[names[j]]
		if a.Occurrences != b.Occurrences {
			return a.Occurrences > b.Occurrences
		}
		return names[i] < names[j]
	})
	return names
}
