package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/roach88/entitycache/internal/value"
)

// Format names a feed encoding.
type Format string

const (
	FormatYAML    Format = "yaml"
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".msgpack", ".mp":
		return FormatMsgpack, nil
	default:
		return "", fmt.Errorf("unknown feed format for %s", path)
	}
}

// rawOp is the wire shape shared by all formats.
type rawOp struct {
	Seq      int64            `yaml:"seq" json:"seq" msgpack:"seq"`
	Cache    string           `yaml:"cache" json:"cache" msgpack:"cache"`
	Op       Kind             `yaml:"op" json:"op" msgpack:"op"`
	Payloads []map[string]any `yaml:"payloads" json:"payloads" msgpack:"payloads"`
	IDs      []int64          `yaml:"ids" json:"ids" msgpack:"ids"`
}

type rawFeed struct {
	Ops []rawOp `yaml:"ops" json:"ops" msgpack:"ops"`
}

// LoadFile reads a feed file; the format comes from the extension.
func LoadFile(path string) ([]Op, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	ops, err := Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ops, nil
}

// Decode parses a feed document ({ops: [...]}) in the given format.
// Unknown fields are rejected.
func Decode(data []byte, format Format) ([]Op, error) {
	var raw rawFeed
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse YAML feed: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		dec.DisallowUnknownFields()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse JSON feed: %w", err)
		}
	case FormatMsgpack:
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields(true)
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse msgpack feed: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown feed format %q", format)
	}

	ops := make([]Op, 0, len(raw.Ops))
	for i, r := range raw.Ops {
		op, err := r.op()
		if err != nil {
			return nil, fmt.Errorf("ops[%d]: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// DecodeOp parses a single op document in the given format.
func DecodeOp(data []byte, format Format) (Op, error) {
	var raw rawOp
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		dec.DisallowUnknownFields()
		if err := dec.Decode(&raw); err != nil {
			return Op{}, fmt.Errorf("parse JSON op: %w", err)
		}
	case FormatMsgpack:
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields(true)
		if err := dec.Decode(&raw); err != nil {
			return Op{}, fmt.Errorf("parse msgpack op: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil {
			return Op{}, fmt.Errorf("parse YAML op: %w", err)
		}
	default:
		return Op{}, fmt.Errorf("unknown op format %q", format)
	}
	return raw.op()
}

func (r rawOp) op() (Op, error) {
	op := Op{Seq: r.Seq, Cache: r.Cache, Kind: r.Op, IDs: r.IDs}
	for i, p := range r.Payloads {
		v, err := value.FromGo(p)
		if err != nil {
			return Op{}, fmt.Errorf("payloads[%d]: %w", i, err)
		}
		op.Payloads = append(op.Payloads, v.(value.Object))
	}
	if err := op.Validate(); err != nil {
		return Op{}, err
	}
	return op, nil
}

// EncodeMsgpack encodes a single op as msgpack.
func EncodeMsgpack(op Op) ([]byte, error) {
	raw := rawOp{Seq: op.Seq, Cache: op.Cache, Op: op.Kind, IDs: op.IDs}
	for _, p := range op.Payloads {
		raw.Payloads = append(raw.Payloads, value.ToGo(p).(map[string]any))
	}
	data, err := msgpack.Marshal(&raw)
	if err != nil {
		return nil, fmt.Errorf("encode msgpack op: %w", err)
	}
	return data, nil
}

// EncodeMsgpackFeed encodes ops as a msgpack feed document.
func EncodeMsgpackFeed(ops []Op) ([]byte, error) {
	raw := rawFeed{Ops: make([]rawOp, 0, len(ops))}
	for _, op := range ops {
		r := rawOp{Seq: op.Seq, Cache: op.Cache, Op: op.Kind, IDs: op.IDs}
		for _, p := range op.Payloads {
			r.Payloads = append(r.Payloads, value.ToGo(p).(map[string]any))
		}
		raw.Ops = append(raw.Ops, r)
	}
	data, err := msgpack.Marshal(&raw)
	if err != nil {
		return nil, fmt.Errorf("encode msgpack feed: %w", err)
	}
	return data, nil
}
