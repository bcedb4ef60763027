package projection

import (
	"fmt"

	"github.com/pthm/quince/internal/connection"
)

// Options are the sort and paging arguments of a list field.
type Options struct {
	Sort   []connection.Sort
	Limit  int
	Offset int
}

// ParseOptions reads sort, limit and offset from args, either nested under
// options or given at the top level. Top-level values win.
func ParseOptions(args map[string]any) (Options, error) {
	var o Options
	if raw, ok := args["options"]; ok && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return Options{}, fmt.Errorf("%w: options must be an object", ErrInvalidArgument)
		}
		if err := o.read(m); err != nil {
			return Options{}, err
		}
	}
	if err := o.read(args); err != nil {
		return Options{}, err
	}
	return o, nil
}

func (o *Options) read(m map[string]any) error {
	if raw, ok := m["sort"]; ok && raw != nil {
		sorts, err := connection.ParseSort(raw)
		if err != nil {
			return err
		}
		for _, s := range sorts {
			if s.Edge {
				return fmt.Errorf("%w: sort by edge property outside a connection", ErrInvalidArgument)
			}
		}
		o.Sort = sorts
	}
	if raw, ok := m["limit"]; ok && raw != nil {
		n, err := count(raw, "limit")
		if err != nil {
			return err
		}
		o.Limit = n
	}
	if raw, ok := m["offset"]; ok && raw != nil {
		n, err := count(raw, "offset")
		if err != nil {
			return err
		}
		o.Offset = n
	}
	return nil
}

func count(raw any, name string) (int, error) {
	var n int
	switch v := raw.(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		n = int(v)
		if float64(n) != v {
			return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidArgument, name)
		}
	default:
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidArgument, name)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", ErrInvalidArgument, name)
	}
	return n, nil
}
