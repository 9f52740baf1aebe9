package layout

import (
	"fmt"

	"github.com/layoutkit/layoutkit/pkg/layout/errs"
)

// toInt64 coerces any Go integer kind into an int64, the common currency
// values travel in before a descriptor narrows them to its declared width.
// Any other type, bool included, is a constraint violation.
func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("%w: value is not an integer (%T)", errs.ErrConstraintViolation, v)
	}
}

func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case int64:
		return uint64(n), nil
	case int:
		return uint64(n), nil
	case int8:
		return uint64(n), nil
	case int16:
		return uint64(n), nil
	case int32:
		return uint64(n), nil
	case uint:
		return uint64(n), nil
	case uint8:
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case uint32:
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("%w: value is not an integer (%T)", errs.ErrConstraintViolation, v)
	}
}
