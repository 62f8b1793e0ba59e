package bolt

import (
	"fmt"

	"github.com/cuemby/graphbolt/pkg/graphbolterr"
)

// Structure is the generic PackStream structure: a tag byte plus an ordered
// field list. Decode turns the well-known tags into the typed values below;
// an unrecognized tag is a protocol error.
type Structure struct {
	Tag    byte
	Fields []any
}

// Structure tags carried over the Bolt wire protocol.
const (
	TagNode                 = 0x4E
	TagRelationship         = 0x52
	TagUnboundRelationship  = 0x72
	TagPath                 = 0x50
	TagPoint2D              = 0x58
	TagPoint3D              = 0x59
	TagDate                 = 0x44
	TagTime                 = 0x54
	TagLocalTime            = 0x74
	TagDateTime             = 0x49
	TagDateTimeZoneID       = 0x69
	TagLegacyDateTime       = 0x46
	TagLegacyDateTimeZoneID = 0x66
	TagLocalDateTime        = 0x64
	TagDuration             = 0x45
)

// Node mirrors the Bolt Node structure: an internal id, a label set, and a
// property map. ElementID is carried for protocol versions that report it;
// it is empty on older servers.
type Node struct {
	ID         int64
	ElementID  string
	Labels     []string
	Properties map[string]any
}

// Relationship mirrors the Bolt Relationship structure.
type Relationship struct {
	ID             int64
	ElementID      string
	StartNodeID    int64
	StartElementID string
	EndNodeID      int64
	EndElementID   string
	Type           string
	Properties     map[string]any
}

// UnboundRelationship mirrors a Relationship as it appears inside a Path,
// without its endpoint node ids.
type UnboundRelationship struct {
	ID         int64
	ElementID  string
	Type       string
	Properties map[string]any
}

// Path mirrors the Bolt Path structure: alternating nodes and relationships
// described by a flat list of unique nodes, unique relationships, and a
// sequence of signed indices describing the walk.
type Path struct {
	Nodes         []*Node
	Relationships []*UnboundRelationship
	Sequence      []int64
}

// Point2D and Point3D mirror the spatial structures.
type Point2D struct {
	SRID int64
	X, Y float64
}

type Point3D struct {
	SRID    int64
	X, Y, Z float64
}

// Date, Time, LocalTime, DateTime, LocalDateTime, and Duration mirror the
// temporal structures. Fields are kept as the raw integer components the
// wire carries; converting to time.Time is a concern for callers that need
// it, not for the codec.
type Date struct{ EpochDay int64 }

type Time struct {
	NanosecondsSinceMidnight int64
	TZOffsetSeconds          int64
}

type LocalTime struct{ NanosecondsSinceMidnight int64 }

type DateTime struct {
	EpochSeconds int64
	Nanoseconds  int64
	TZOffsetSeconds int64
	TZID            string
}

type LocalDateTime struct {
	EpochSeconds int64
	Nanoseconds  int64
}

type Duration struct {
	Months      int64
	Days        int64
	Seconds     int64
	Nanoseconds int64
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	i, _ := v.(int64)
	return i
}

func asFloat64(v any) float64 {
	f, _ := v.(float64)
	return f
}

func asStringList(v any) []string {
	list, _ := v.([]any)
	out := make([]string, len(list))
	for i, item := range list {
		out[i] = asString(item)
	}
	return out
}

func asProperties(v any) map[string]any {
	if m, ok := v.(*OrderedMap); ok {
		return m.ToMap()
	}
	m, _ := v.(map[string]any)
	if m == nil {
		return map[string]any{}
	}
	return m
}

// DecodeStructure converts a raw *Structure into its typed Go representation.
// An unrecognized tag is returned as a ProtocolError.
func DecodeStructure(s *Structure) (any, error) {
	switch s.Tag {
	case TagNode:
		if len(s.Fields) == 4 {
			return &Node{
				ID:         asInt64(s.Fields[0]),
				Labels:     asStringList(s.Fields[1]),
				Properties: asProperties(s.Fields[2]),
				ElementID:  asString(s.Fields[3]),
			}, nil
		}
		if len(s.Fields) == 3 {
			return &Node{
				ID:         asInt64(s.Fields[0]),
				Labels:     asStringList(s.Fields[1]),
				Properties: asProperties(s.Fields[2]),
			}, nil
		}
		return nil, fmt.Errorf("bolt: Node structure has %d fields", len(s.Fields))
	case TagRelationship:
		switch len(s.Fields) {
		case 8:
			return &Relationship{
				ID:             asInt64(s.Fields[0]),
				StartNodeID:    asInt64(s.Fields[1]),
				EndNodeID:      asInt64(s.Fields[2]),
				Type:           asString(s.Fields[3]),
				Properties:     asProperties(s.Fields[4]),
				ElementID:      asString(s.Fields[5]),
				StartElementID: asString(s.Fields[6]),
				EndElementID:   asString(s.Fields[7]),
			}, nil
		case 5:
			return &Relationship{
				ID:          asInt64(s.Fields[0]),
				StartNodeID: asInt64(s.Fields[1]),
				EndNodeID:   asInt64(s.Fields[2]),
				Type:        asString(s.Fields[3]),
				Properties:  asProperties(s.Fields[4]),
			}, nil
		default:
			return nil, fmt.Errorf("bolt: Relationship structure has %d fields", len(s.Fields))
		}
	case TagUnboundRelationship:
		if len(s.Fields) == 4 {
			return &UnboundRelationship{
				ID:         asInt64(s.Fields[0]),
				Type:       asString(s.Fields[1]),
				Properties: asProperties(s.Fields[2]),
				ElementID:  asString(s.Fields[3]),
			}, nil
		}
		return &UnboundRelationship{
			ID:         asInt64(s.Fields[0]),
			Type:       asString(s.Fields[1]),
			Properties: asProperties(s.Fields[2]),
		}, nil
	case TagPath:
		nodesRaw, _ := s.Fields[0].([]any)
		relsRaw, _ := s.Fields[1].([]any)
		seqRaw, _ := s.Fields[2].([]any)
		nodes := make([]*Node, len(nodesRaw))
		for i, n := range nodesRaw {
			ns, ok := n.(*Structure)
			if !ok {
				return nil, fmt.Errorf("bolt: Path node element is not a structure")
			}
			decoded, err := DecodeStructure(ns)
			if err != nil {
				return nil, err
			}
			nodes[i] = decoded.(*Node)
		}
		rels := make([]*UnboundRelationship, len(relsRaw))
		for i, r := range relsRaw {
			rs, ok := r.(*Structure)
			if !ok {
				return nil, fmt.Errorf("bolt: Path relationship element is not a structure")
			}
			decoded, err := DecodeStructure(rs)
			if err != nil {
				return nil, err
			}
			rels[i] = decoded.(*UnboundRelationship)
		}
		seq := make([]int64, len(seqRaw))
		for i, v := range seqRaw {
			seq[i] = asInt64(v)
		}
		return &Path{Nodes: nodes, Relationships: rels, Sequence: seq}, nil
	case TagPoint2D:
		return &Point2D{SRID: asInt64(s.Fields[0]), X: asFloat64(s.Fields[1]), Y: asFloat64(s.Fields[2])}, nil
	case TagPoint3D:
		return &Point3D{SRID: asInt64(s.Fields[0]), X: asFloat64(s.Fields[1]), Y: asFloat64(s.Fields[2]), Z: asFloat64(s.Fields[3])}, nil
	case TagDate:
		return &Date{EpochDay: asInt64(s.Fields[0])}, nil
	case TagTime:
		return &Time{NanosecondsSinceMidnight: asInt64(s.Fields[0]), TZOffsetSeconds: asInt64(s.Fields[1])}, nil
	case TagLocalTime:
		return &LocalTime{NanosecondsSinceMidnight: asInt64(s.Fields[0])}, nil
	case TagLocalDateTime:
		return &LocalDateTime{EpochSeconds: asInt64(s.Fields[0]), Nanoseconds: asInt64(s.Fields[1])}, nil
	case TagDateTime, TagLegacyDateTime:
		return &DateTime{EpochSeconds: asInt64(s.Fields[0]), Nanoseconds: asInt64(s.Fields[1]), TZOffsetSeconds: asInt64(s.Fields[2])}, nil
	case TagDateTimeZoneID, TagLegacyDateTimeZoneID:
		return &DateTime{EpochSeconds: asInt64(s.Fields[0]), Nanoseconds: asInt64(s.Fields[1]), TZID: asString(s.Fields[2])}, nil
	case TagDuration:
		return &Duration{
			Months:      asInt64(s.Fields[0]),
			Days:        asInt64(s.Fields[1]),
			Seconds:     asInt64(s.Fields[2]),
			Nanoseconds: asInt64(s.Fields[3]),
		}, nil
	default:
		return nil, graphbolterr.NewProtocolError(fmt.Sprintf("unknown structure tag 0x%02X", s.Tag))
	}
}

// decodeValue walks a freshly unpacked value tree, converting every nested
// *Structure into its typed representation.
func decodeValue(v any) (any, error) {
	switch val := v.(type) {
	case *Structure:
		return DecodeStructure(val)
	case []any:
		for i, item := range val {
			d, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			val[i] = d
		}
		return val, nil
	case map[string]any:
		for k, item := range val {
			d, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			val[k] = d
		}
		return val, nil
	case *OrderedMap:
		for i, kv := range val.pairs {
			d, err := decodeValue(kv.Value)
			if err != nil {
				return nil, err
			}
			val.pairs[i].Value = d
		}
		return val, nil
	default:
		return v, nil
	}
}
