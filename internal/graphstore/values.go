package graphstore

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/starford/tenantgraph/internal/models"
)

// tenantProperty is the ownership key stored on every tenant node. It is an
// implementation detail and never returned to callers.
const tenantProperty = "tenant_id"

// toResultSet converts driver records into rows keyed by column name.
func toResultSet(keys []string, records []*neo4j.Record) models.ResultSet {
	rs := models.ResultSet{
		Columns: keys,
		Rows:    make([]models.Row, 0, len(records)),
	}
	if rs.Columns == nil {
		rs.Columns = []string{}
	}
	for _, rec := range records {
		row := make(models.Row, len(rec.Keys))
		for i, k := range rec.Keys {
			row[k] = toJSONValue(rec.Values[i])
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs
}

// toJSONValue turns graph values into plain maps, slices and scalars.
func toJSONValue(v any) any {
	switch x := v.(type) {
	case dbtype.Node:
		props := properties(x.Props)
		props["labels"] = nodeLabels(x.Labels)
		return props
	case dbtype.Relationship:
		props := properties(x.Props)
		props["type"] = x.Type
		return props
	case dbtype.Path:
		out := make([]any, 0, len(x.Nodes)+len(x.Relationships))
		for i, n := range x.Nodes {
			out = append(out, toJSONValue(n))
			if i < len(x.Relationships) {
				out = append(out, toJSONValue(x.Relationships[i]))
			}
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = toJSONValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = toJSONValue(e)
		}
		return out
	case dbtype.Date:
		return x.Time().Format(time.DateOnly)
	case dbtype.LocalDateTime:
		return x.Time().Format("2006-01-02T15:04:05.999999999")
	case dbtype.LocalTime:
		return x.Time().Format("15:04:05.999999999")
	case dbtype.Time:
		return x.Time().Format("15:04:05.999999999Z07:00")
	case dbtype.Duration:
		return x.String()
	case dbtype.Point2D:
		return map[string]any{"srid": x.SpatialRefId, "x": x.X, "y": x.Y}
	case dbtype.Point3D:
		return map[string]any{"srid": x.SpatialRefId, "x": x.X, "y": x.Y, "z": x.Z}
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return v
	}
}

func nodeLabels(labels []string) []string {
	if labels == nil {
		return []string{}
	}
	return labels
}

func properties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if k == tenantProperty {
			continue
		}
		out[k] = toJSONValue(v)
	}
	return out
}
