package records

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/bioref/internal/logger"
)

func collect(t *testing.T, c *Classifier, input string) ([]Record, error) {
	t.Helper()
	var out []Record
	for rec, err := range c.Classify(Lines(strings.NewReader(input)), nil) {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func TestDecode(t *testing.T) {
	rec, err := Decode([]byte(`{"metadata":{"source":"EG","version":"2023-01-01"}}`))
	require.NoError(t, err)
	md, ok := rec.(*Metadata)
	require.True(t, ok)
	assert.Equal(t, "EG", md.Source)

	rec, err = Decode([]byte(`{"term":{"namespace":"HGNC","id":"HGNC:1100","species_id":"TAX:9606","equivalences":["EG:672"]}}`))
	require.NoError(t, err)
	term := rec.(*Term)
	assert.Equal(t, "HGNC:1100", term.ID)
	assert.Equal(t, []string{"EG:672"}, term.Equivalences)

	rec, err = Decode([]byte(`{"ortholog":{"subject":{"id":"EG:1","tax_id":"TAX:9606"},"object":{"id":"EG:2","tax_id":"TAX:10090"}}}`))
	require.NoError(t, err)
	orth := rec.(*Ortholog)
	assert.Equal(t, "TAX:10090", orth.Object.TaxID)
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		reason string
	}{
		{"unknown tag", `{"relation":{"id":"x"}}`, "no known tag among keys [relation]"},
		{"two tags", `{"term":{"id":"a"},"ortholog":{}}`, "ambiguous record"},
		{"not json", `{"term":`, "invalid json"},
		{"bad body", `{"term":"HGNC:1"}`, "decoding term"},
		{"empty object", `{}`, "no known tag"},
		{"null term", `{"term":null}`, "term body is null"},
		{"null metadata", `{"metadata":null}`, "metadata body is null"},
		{"term without id", `{"term":{"namespace":"HGNC","equivalences":["EG:672"]}}`, "term id is required"},
		{"ortholog without object", `{"ortholog":{"subject":{"id":"EG:1","tax_id":"TAX:9606"}}}`, "ortholog object.id is required"},
		{"ortholog without subject", `{"ortholog":{"object":{"id":"EG:9","tax_id":"TAX:10090"}}}`, "ortholog subject.id is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.line))
			var ce *ClassificationError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Contains(t, ce.Reason, tt.reason)
		})
	}
}

func TestClassifyOrthologSpeciesFilter(t *testing.T) {
	line := `{"ortholog":{"subject":{"id":"EG:1","tax_id":"TAX:9606"},"object":{"id":"EG:2","tax_id":"TAX:10090"}}}`

	tests := []struct {
		name    string
		species []string
		want    int
	}{
		{"no allow-list", nil, 1},
		{"both endpoints allowed", []string{"TAX:9606", "TAX:10090"}, 1},
		{"subject excluded", []string{"TAX:10090"}, 0},
		{"object excluded", []string{"TAX:9606"}, 0},
		{"neither allowed", []string{"TAX:7955"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(NewSpeciesSet(tt.species...), logger.Nop())
			recs, err := collect(t, c, line)
			require.NoError(t, err)
			assert.Len(t, recs, tt.want)
			for _, r := range recs {
				assert.IsType(t, &Ortholog{}, r)
			}
		})
	}
}

func TestClassifyTermSpeciesFilter(t *testing.T) {
	input := strings.Join([]string{
		`{"metadata":{"source":"HGNC"}}`,
		`{"term":{"namespace":"HGNC","id":"HGNC:1","species_id":"TAX:9606"}}`,
		`{"term":{"namespace":"MGI","id":"MGI:1","species_id":"TAX:10090"}}`,
		`{"term":{"namespace":"DO","id":"DO:0050700"}}`,
	}, "\n")

	c := NewClassifier(NewSpeciesSet("TAX:9606"), logger.Nop())
	var stats Stats
	var ids []string
	for rec, err := range c.Classify(Lines(strings.NewReader(input)), &stats) {
		require.NoError(t, err)
		if term, ok := rec.(*Term); ok {
			ids = append(ids, term.ID)
		}
	}

	assert.Equal(t, []string{"HGNC:1", "DO:0050700"}, ids)
	assert.Equal(t, Stats{Metadata: 1, Terms: 2, Filtered: 1}, stats)
}

func TestClassifyStopsOnUnknownTag(t *testing.T) {
	input := strings.Join([]string{
		`{"metadata":{"source":"EG"}}`,
		``,
		`{"mystery":{}}`,
		`{"term":{"namespace":"EG","id":"EG:1"}}`,
	}, "\n")

	recs, err := collect(t, NewClassifier(SpeciesSet{}, logger.Nop()), input)
	require.Error(t, err)
	assert.Len(t, recs, 1)

	var ce *ClassificationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 2, ce.Line)
	assert.Contains(t, err.Error(), "line 2")
}

func TestClassifyStopsWhenConsumerStops(t *testing.T) {
	input := strings.Repeat(`{"term":{"namespace":"EG","id":"EG:1"}}`+"\n", 10)
	c := NewClassifier(SpeciesSet{}, logger.Nop())
	n := 0
	for range c.Classify(Lines(strings.NewReader(input)), nil) {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestSpeciesSet(t *testing.T) {
	var zero SpeciesSet
	assert.True(t, zero.Empty())
	assert.True(t, zero.Allows("TAX:1"))

	s := NewSpeciesSet("TAX:9606", " ", "TAX:10090")
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Allows("TAX:9606"))
	assert.True(t, s.Allows(""))
	assert.False(t, s.Allows("TAX:7955"))
}

func TestOpenPlainAndGzip(t *testing.T) {
	dir := t.TempDir()
	content := `{"metadata":{"source":"EG"}}` + "\n" + `{"term":{"namespace":"EG","id":"EG:1"}}` + "\n"

	plain := filepath.Join(dir, "eg.jsonl")
	require.NoError(t, os.WriteFile(plain, []byte(content), 0o644))

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	zipped := filepath.Join(dir, "eg.jsonl.gz")
	require.NoError(t, os.WriteFile(zipped, buf.Bytes(), 0o644))

	for _, path := range []string{plain, zipped} {
		rc, err := Open(path)
		require.NoError(t, err, path)
		var lines []string
		for line, err := range Lines(rc) {
			require.NoError(t, err)
			lines = append(lines, string(line))
		}
		require.NoError(t, rc.Close())
		assert.True(t, slices.Equal(strings.Split(strings.TrimSpace(content), "\n"), lines), path)
	}

	_, err = Open(filepath.Join(dir, "absent.jsonl"))
	assert.Error(t, err)
}

func TestOpenEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	rc, err := Open(path)
	require.NoError(t, err)
	defer rc.Close()
	n := 0
	for range Lines(rc) {
		n++
	}
	assert.Zero(t, n)
}
