package feed

import (
	"errors"
	"fmt"

	"github.com/roach88/entitycache/internal/value"
)

// Kind is the operation applied to a cache.
type Kind string

const (
	KindUpsert Kind = "upsert"
	KindRemove Kind = "remove"
	KindClear  Kind = "clear"
)

// ErrInvalidOp marks an operation that cannot be applied.
var ErrInvalidOp = errors.New("invalid op")

// Op is one feed operation.
type Op struct {
	// Seq is assigned by the op log; zero for ops that were never stored.
	Seq      int64
	Cache    string
	Kind     Kind
	Payloads []value.Object
	IDs      []int64
}

// Upsert builds an upsert op.
func Upsert(cache string, payloads ...value.Object) Op {
	return Op{Cache: cache, Kind: KindUpsert, Payloads: payloads}
}

// Remove builds a remove op.
func Remove(cache string, ids ...int64) Op {
	return Op{Cache: cache, Kind: KindRemove, IDs: ids}
}

// Clear builds a clear op.
func Clear(cache string) Op {
	return Op{Cache: cache, Kind: KindClear}
}

// Validate checks that the op is complete for its kind.
func (op Op) Validate() error {
	if op.Cache == "" {
		return fmt.Errorf("%w: cache is required", ErrInvalidOp)
	}
	switch op.Kind {
	case KindUpsert:
		if len(op.Payloads) == 0 {
			return fmt.Errorf("%w: upsert on %s has no payloads", ErrInvalidOp, op.Cache)
		}
		if len(op.IDs) > 0 {
			return fmt.Errorf("%w: upsert on %s carries ids", ErrInvalidOp, op.Cache)
		}
	case KindRemove:
		if len(op.IDs) == 0 {
			return fmt.Errorf("%w: remove on %s has no ids", ErrInvalidOp, op.Cache)
		}
		if len(op.Payloads) > 0 {
			return fmt.Errorf("%w: remove on %s carries payloads", ErrInvalidOp, op.Cache)
		}
	case KindClear:
		if len(op.Payloads) > 0 || len(op.IDs) > 0 {
			return fmt.Errorf("%w: clear on %s carries data", ErrInvalidOp, op.Cache)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOp, op.Kind)
	}
	return nil
}

// Value renders the op as a payload tree, the shape used by every codec.
func (op Op) Value() value.Object {
	obj := value.Obj(
		value.O("cache", value.String(op.Cache)),
		value.O("op", value.String(string(op.Kind))),
	)
	if op.Seq != 0 {
		obj["seq"] = value.Int(op.Seq)
	}
	if len(op.Payloads) > 0 {
		arr := make(value.Array, len(op.Payloads))
		for i, p := range op.Payloads {
			arr[i] = p
		}
		obj["payloads"] = arr
	}
	if len(op.IDs) > 0 {
		obj["ids"] = value.Ints(op.IDs...)
	}
	return obj
}

// MarshalCanonical encodes the op as canonical JSON.
func (op Op) MarshalCanonical() ([]byte, error) {
	return value.MarshalCanonical(op.Value())
}
