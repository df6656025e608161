// Package migrate imports and exports graph data in interchange formats:
// canonical JSON (round-trip safe), Pajek NET, and IPLD CAR archives.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/orneryd/ipldgraph/pkg/graph"
)

// Migration errors.
var (
	// ErrFormat indicates malformed input in the selected format.
	ErrFormat = errors.New("invalid migration format")
	// ErrNoRoots indicates a CAR file without a declared root.
	ErrNoRoots = errors.New("car file declares no roots")
)

// GraphData is the interchange payload: the same shape as an engine
// snapshot.
type GraphData struct {
	Nodes         []*graph.Node          `json:"nodes"`
	Relationships []*graph.Relationship  `json:"relationships"`
	Metadata      graph.SnapshotMetadata `json:"metadata"`
}

// Collect extracts the live graph into a GraphData, ordered by id so
// exports are deterministic.
func Collect(engine *graph.Engine) *GraphData {
	nodes := engine.AllNodes()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	rels := engine.AllRelationships()
	sort.Slice(rels, func(i, j int) bool { return rels[i].ID < rels[j].ID })

	return &GraphData{
		Nodes:         nodes,
		Relationships: rels,
		Metadata: graph.SnapshotMetadata{
			NodeCount:         len(nodes),
			RelationshipCount: len(rels),
			Version:           "1.0",
		},
	}
}

// Load inserts the payload into the engine under the recorded ids.
func Load(ctx context.Context, engine *graph.Engine, data *GraphData) error {
	for _, node := range data.Nodes {
		engine.CreateNodeWithID(ctx, node)
	}
	for _, rel := range data.Relationships {
		engine.CreateRelationshipWithID(ctx, rel)
	}
	return nil
}

// MarshalJSONIndent renders the canonical JSON form.
func (d *GraphData) MarshalJSONIndent() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// FromJSON parses a canonical JSON export.
func FromJSON(data []byte) (*GraphData, error) {
	var out GraphData
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrFormat, err)
	}
	return &out, nil
}

// WritePajek renders the graph in Pajek NET format:
//
//	*Vertices <n>
//	1 "node-id"
//	*Edges
//	1 2 "TYPE"
//
// Pajek carries structure only; properties and labels do not survive the
// round trip.
func WritePajek(w io.Writer, data *GraphData) error {
	bw := bufio.NewWriter(w)

	index := make(map[string]int, len(data.Nodes))
	fmt.Fprintf(bw, "*Vertices %d\n", len(data.Nodes))
	for i, node := range data.Nodes {
		index[node.ID] = i + 1
		fmt.Fprintf(bw, "%d %q\n", i+1, node.ID)
	}

	fmt.Fprintln(bw, "*Edges")
	for _, rel := range data.Relationships {
		from, okFrom := index[rel.StartNode]
		to, okTo := index[rel.EndNode]
		if !okFrom || !okTo {
			return fmt.Errorf("%w: edge %s references unknown vertex", ErrFormat, rel.ID)
		}
		fmt.Fprintf(bw, "%d %d %q\n", from, to, rel.Type)
	}
	return bw.Flush()
}

// ReadPajek parses Pajek NET input. Lines starting with % are comments and
// are skipped.
func ReadPajek(r io.Reader) (*GraphData, error) {
	scanner := bufio.NewScanner(r)
	data := &GraphData{}
	byIndex := make(map[int]string)

	section := ""
	relSeq := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}

		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "*vertices"):
			section = "vertices"
			continue
		case strings.HasPrefix(lower, "*edges"), strings.HasPrefix(lower, "*arcs"):
			section = "edges"
			continue
		case strings.HasPrefix(line, "*"):
			return nil, fmt.Errorf("%w: unknown section %q", ErrFormat, line)
		}

		fields := splitPajekLine(line)
		switch section {
		case "vertices":
			if len(fields) < 1 {
				return nil, fmt.Errorf("%w: bad vertex line %q", ErrFormat, line)
			}
			idx, err := strconv.Atoi(fields[0])
			if err != nil {
				return nil, fmt.Errorf("%w: bad vertex index %q", ErrFormat, fields[0])
			}
			id := fmt.Sprintf("node-%d", idx)
			if len(fields) > 1 {
				id = fields[1]
			}
			byIndex[idx] = id
			data.Nodes = append(data.Nodes, &graph.Node{ID: id, Labels: []string{}, Properties: map[string]any{}})

		case "edges":
			if len(fields) < 2 {
				return nil, fmt.Errorf("%w: bad edge line %q", ErrFormat, line)
			}
			from, err1 := strconv.Atoi(fields[0])
			to, err2 := strconv.Atoi(fields[1])
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("%w: bad edge line %q", ErrFormat, line)
			}
			startID, okFrom := byIndex[from]
			endID, okTo := byIndex[to]
			if !okFrom || !okTo {
				return nil, fmt.Errorf("%w: edge references unknown vertex in %q", ErrFormat, line)
			}
			relType := "RELATED"
			if len(fields) > 2 {
				relType = fields[2]
			}
			relSeq++
			data.Relationships = append(data.Relationships, &graph.Relationship{
				ID:         fmt.Sprintf("rel-%d", relSeq),
				Type:       relType,
				StartNode:  startID,
				EndNode:    endID,
				Properties: map[string]any{},
			})

		default:
			return nil, fmt.Errorf("%w: data before section header: %q", ErrFormat, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	data.Metadata = graph.SnapshotMetadata{
		NodeCount:         len(data.Nodes),
		RelationshipCount: len(data.Relationships),
		Version:           "1.0",
	}
	return data, nil
}

// splitPajekLine splits on whitespace, honoring double-quoted fields.
func splitPajekLine(line string) []string {
	var fields []string
	var sb strings.Builder
	inQuote := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			inQuote = !inQuote
		case (c == ' ' || c == '\t') && !inQuote:
			if sb.Len() > 0 {
				fields = append(fields, sb.String())
				sb.Reset()
			}
		default:
			sb.WriteByte(c)
		}
	}
	if sb.Len() > 0 {
		fields = append(fields, sb.String())
	}
	return fields
}
