package vectorio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/woozymasta/tabgrid/internal/crs"
	"github.com/woozymasta/tabgrid/internal/geo"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// MIF reads MapInfo Interchange Format files: geometry in .mif, attributes
// in the sibling .mid.
type MIF struct{}

type mifColumn struct {
	field geo.Field
	kind  string
}

type mifHeader struct {
	charset   string
	delimiter rune
	coordSys  string
	columns   []mifColumn
}

// mifObjects are the keywords that start a data object.
var mifObjects = map[string]bool{
	"NONE": true, "POINT": true, "LINE": true, "PLINE": true, "REGION": true,
	"ARC": true, "TEXT": true, "RECT": true, "ROUNDRECT": true, "ELLIPSE": true,
	"MULTIPOINT": true, "COLLECTION": true,
}

var mifColumnType = regexp.MustCompile(`^(?i)([a-z]+)\s*(?:\(\s*(\d+)\s*(?:,\s*(\d+)\s*)?\))?`)

// Read implements Reader.
func (MIF) Read(ctx context.Context, path string) (*geo.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	hdr, dataLine, err := parseMIFHeader(lines)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var c crs.CRS
	if hdr.coordSys != "" {
		if c, err = crs.FromMapInfo(hdr.coordSys); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	geoms, err := parseMIFObjects(ctx, lines, dataLine)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	fc := geo.NewFeatureCollection(layerName(path), c)
	for _, col := range hdr.columns {
		fc.Fields = append(fc.Fields, col.field)
	}

	rows, err := readMID(path, hdr, len(geoms))
	if err != nil {
		return nil, err
	}
	if len(hdr.columns) > 0 && len(rows) != len(geoms) {
		return nil, fmt.Errorf("%s: mid has %d rows, mif has %d objects", path, len(rows), len(geoms))
	}

	for i, g := range geoms {
		props := geojson.Properties{}
		if i < len(rows) {
			for j, col := range hdr.columns {
				props[col.field.Name] = parseMIDValue(col, rows[i][j])
			}
		}
		fc.Append(g, props)
	}
	return fc, nil
}

func parseMIFHeader(lines []string) (*mifHeader, int, error) {
	hdr := &mifHeader{delimiter: '\t'}

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		keyword, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		switch strings.ToUpper(keyword) {
		case "CHARSET":
			hdr.charset = strings.Trim(rest, `"`)
		case "DELIMITER":
			d := []rune(strings.Trim(rest, `"`))
			if len(d) != 1 {
				return nil, 0, fmt.Errorf("line %d: invalid delimiter %q", i+1, rest)
			}
			hdr.delimiter = d[0]
		case "COORDSYS":
			hdr.coordSys = line
		case "COLUMNS":
			n, err := strconv.Atoi(rest)
			if err != nil || n < 0 {
				return nil, 0, fmt.Errorf("line %d: invalid column count %q", i+1, rest)
			}
			for k := 0; k < n; k++ {
				i++
				if i >= len(lines) {
					return nil, 0, errors.New("unexpected end of column list")
				}
				col, err := parseMIFColumn(lines[i])
				if err != nil {
					return nil, 0, fmt.Errorf("line %d: %w", i+1, err)
				}
				hdr.columns = append(hdr.columns, col)
			}
		case "DATA":
			return hdr, i + 1, nil
		}
	}
	return nil, 0, errors.New("missing Data section")
}

func parseMIFColumn(line string) (mifColumn, error) {
	name, typ, ok := strings.Cut(strings.TrimSpace(line), " ")
	if !ok {
		return mifColumn{}, fmt.Errorf("invalid column %q", line)
	}
	m := mifColumnType.FindStringSubmatch(strings.TrimSpace(typ))
	if m == nil {
		return mifColumn{}, fmt.Errorf("invalid column type %q", typ)
	}

	kind := strings.ToUpper(m[1])
	width, _ := strconv.Atoi(m[2])
	dec, _ := strconv.Atoi(m[3])
	f := geo.Field{Name: strings.Trim(name, `"`)}

	switch kind {
	case "CHAR":
		f.Type, f.Width = geo.FieldString, width
	case "SMALLINT":
		f.Type, f.Width = geo.FieldInteger, 6
	case "INTEGER":
		f.Type, f.Width = geo.FieldInteger, 11
	case "LARGEINT":
		f.Type, f.Width = geo.FieldInteger, 18
	case "DECIMAL":
		f.Type, f.Width, f.Decimals = geo.FieldFloat, width, dec
	case "FLOAT":
		f.Type, f.Width, f.Decimals = geo.FieldFloat, 24, 10
	case "DATE":
		f.Type, f.Width = geo.FieldDate, 8
	case "LOGICAL":
		f.Type, f.Width = geo.FieldLogical, 1
	case "TIME", "DATETIME":
		f.Type, f.Width = geo.FieldString, 20
	default:
		return mifColumn{}, fmt.Errorf("unsupported column type %q", typ)
	}
	return mifColumn{field: f, kind: kind}, nil
}

// mifCharset maps MapInfo charset names to decoders. Unknown names read as UTF-8.
func mifCharset(name string) encoding.Encoding {
	switch strings.ToUpper(name) {
	case "WINDOWSLATIN1":
		return charmap.Windows1252
	case "WINDOWSLATIN2":
		return charmap.Windows1250
	case "WINDOWSCYRILLIC":
		return charmap.Windows1251
	case "WINDOWSGREEK":
		return charmap.Windows1253
	case "WINDOWSTURKISH":
		return charmap.Windows1254
	case "WINDOWSHEBREW":
		return charmap.Windows1255
	case "WINDOWSARABIC":
		return charmap.Windows1256
	case "WINDOWSBALTICRIM":
		return charmap.Windows1257
	case "ISO8859_1":
		return charmap.ISO8859_1
	case "ISO8859_2":
		return charmap.ISO8859_2
	case "ISO8859_5":
		return charmap.ISO8859_5
	case "CODEPAGE437":
		return charmap.CodePage437
	case "CODEPAGE850":
		return charmap.CodePage850
	case "CODEPAGE866":
		return charmap.CodePage866
	}
	return unicode.UTF8
}

func readMID(mifPath string, hdr *mifHeader, objects int) ([][]string, error) {
	base := strings.TrimSuffix(mifPath, filepath.Ext(mifPath))
	var f *os.File
	var err error
	for _, ext := range []string{".mid", ".MID"} {
		if f, err = os.Open(base + ext); err == nil {
			break
		}
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && len(hdr.columns) == 0 {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(mifCharset(hdr.charset).NewDecoder().Reader(f))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var rows [][]string
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		rec := splitMIDLine(line, hdr.delimiter)
		if len(rec) < len(hdr.columns) {
			if strings.TrimSpace(line) == "" && len(rows) >= objects {
				continue
			}
			return nil, fmt.Errorf("%s: row %d has %d values, want %d", f.Name(), len(rows)+1, len(rec), len(hdr.columns))
		}
		rows = append(rows, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name(), err)
	}

	// a trailing blank line reads as one empty value
	for len(rows) > objects && strings.Join(rows[len(rows)-1], "") == "" {
		rows = rows[:len(rows)-1]
	}
	return rows, nil
}

// splitMIDLine splits one attribute row. Double quotes group text and "" is a literal quote.
func splitMIDLine(line string, delim rune) []string {
	var out []string
	var cur strings.Builder
	inQuote := false
	runes := []rune(line)

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' && inQuote && i+1 < len(runes) && runes[i+1] == '"':
			cur.WriteRune('"')
			i++
		case r == '"':
			inQuote = !inQuote
		case r == delim && !inQuote:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(out, cur.String())
}

func parseMIDValue(col mifColumn, raw string) any {
	s := strings.TrimSpace(raw)
	switch col.field.Type {
	case geo.FieldInteger:
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v
		}
		return nil
	case geo.FieldFloat:
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
		return nil
	case geo.FieldLogical:
		switch strings.ToUpper(s) {
		case "T", "TRUE", "Y":
			return true
		case "F", "FALSE", "N":
			return false
		}
		return nil
	case geo.FieldDate:
		if s == "" {
			return nil
		}
		return s
	}
	return raw
}

type mifToken struct {
	text      string
	line      int
	lineStart bool
}

type mifScanner struct {
	tokens []mifToken
	pos    int
}

func newMIFScanner(lines []string, first int) *mifScanner {
	s := &mifScanner{}
	for i := first; i < len(lines); i++ {
		for k, t := range splitMIFLine(lines[i]) {
			s.tokens = append(s.tokens, mifToken{text: t, line: i + 1, lineStart: k == 0})
		}
	}
	return s
}

// splitMIFLine splits on white space, keeping quoted strings whole.
func splitMIFLine(line string) []string {
	var out []string
	var cur strings.Builder
	inQuote := false

	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}

	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case !inQuote && (r == ' ' || r == '\t'):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

func (s *mifScanner) done() bool { return s.pos >= len(s.tokens) }

func (s *mifScanner) next() (mifToken, error) {
	if s.done() {
		return mifToken{}, io.ErrUnexpectedEOF
	}
	t := s.tokens[s.pos]
	s.pos++
	return t, nil
}

func (s *mifScanner) number() (float64, error) {
	t, err := s.next()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(t.text, 64)
	if err != nil {
		return 0, fmt.Errorf("line %d: expected number, got %q", t.line, t.text)
	}
	return v, nil
}

func (s *mifScanner) count() (int, error) {
	v, err := s.number()
	if err != nil {
		return 0, err
	}
	if v < 0 || v != float64(int(v)) {
		return 0, fmt.Errorf("invalid count %v", v)
	}
	return int(v), nil
}

func (s *mifScanner) point() (orb.Point, error) {
	x, err := s.number()
	if err != nil {
		return orb.Point{}, err
	}
	y, err := s.number()
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{x, y}, nil
}

func (s *mifScanner) points(n int) ([]orb.Point, error) {
	out := make([]orb.Point, 0, n)
	for range n {
		p, err := s.point()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *mifScanner) bound() (orb.Bound, error) {
	a, err := s.point()
	if err != nil {
		return orb.Bound{}, err
	}
	b, err := s.point()
	if err != nil {
		return orb.Bound{}, err
	}
	return orb.Bound{Min: a, Max: a}.Extend(b), nil
}

// skipStyle moves to the next line that starts an object.
func (s *mifScanner) skipStyle() {
	for !s.done() {
		t := s.tokens[s.pos]
		if t.lineStart && mifObjects[strings.ToUpper(t.text)] {
			return
		}
		s.pos++
	}
}

func parseMIFObjects(ctx context.Context, lines []string, first int) ([]orb.Geometry, error) {
	s := newMIFScanner(lines, first)
	var out []orb.Geometry

	s.skipStyle()
	for !s.done() {
		if len(out)%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		g, err := s.object()
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", len(out)+1, err)
		}
		out = append(out, g)
		s.skipStyle()
	}
	return out, nil
}

func (s *mifScanner) object() (orb.Geometry, error) {
	t, err := s.next()
	if err != nil {
		return nil, err
	}

	switch strings.ToUpper(t.text) {
	case "NONE":
		return nil, nil
	case "POINT":
		return s.point()
	case "LINE":
		b, err := s.points(2)
		if err != nil {
			return nil, err
		}
		return orb.LineString(b), nil
	case "PLINE":
		return s.pline()
	case "REGION":
		return s.region()
	case "MULTIPOINT":
		n, err := s.count()
		if err != nil {
			return nil, err
		}
		pts, err := s.points(n)
		return orb.MultiPoint(pts), err
	case "RECT", "ELLIPSE":
		b, err := s.bound()
		return b.ToPolygon(), err
	case "ROUNDRECT":
		b, err := s.bound()
		if err != nil {
			return nil, err
		}
		_, err = s.number()
		return b.ToPolygon(), err
	case "ARC":
		b, err := s.bound()
		if err != nil {
			return nil, err
		}
		for range 2 {
			if _, err := s.number(); err != nil {
				return nil, err
			}
		}
		return b.ToPolygon(), nil
	case "TEXT":
		if _, err := s.next(); err != nil {
			return nil, err
		}
		b, err := s.bound()
		return b.ToPolygon(), err
	case "COLLECTION":
		return s.collection()
	}
	return nil, fmt.Errorf("line %d: unknown object %q", t.line, t.text)
}

func (s *mifScanner) pline() (orb.Geometry, error) {
	sections := 1
	if !s.done() && strings.EqualFold(s.tokens[s.pos].text, "MULTIPLE") {
		s.pos++
		n, err := s.count()
		if err != nil {
			return nil, err
		}
		sections = n
	}

	mls := make(orb.MultiLineString, 0, sections)
	for range sections {
		n, err := s.count()
		if err != nil {
			return nil, err
		}
		pts, err := s.points(n)
		if err != nil {
			return nil, err
		}
		mls = append(mls, pts)
	}

	if len(mls) == 1 {
		return mls[0], nil
	}
	return mls, nil
}

func (s *mifScanner) region() (orb.Geometry, error) {
	n, err := s.count()
	if err != nil {
		return nil, err
	}
	rings := make([]orb.Ring, 0, n)
	for range n {
		k, err := s.count()
		if err != nil {
			return nil, err
		}
		pts, err := s.points(k)
		if err != nil {
			return nil, err
		}
		rings = append(rings, pts)
	}
	return assembleRings(rings), nil
}

// collection reads up to three parts (region, pline, multipoint) into one collection.
func (s *mifScanner) collection() (orb.Geometry, error) {
	n, err := s.count()
	if err != nil {
		return nil, err
	}
	col := make(orb.Collection, 0, n)
	for range n {
		s.skipStyle()
		g, err := s.object()
		if err != nil {
			return nil, err
		}
		if g != nil {
			col = append(col, g)
		}
	}
	return col, nil
}
