package kvstore

import (
	"context"
	"encoding/json"

	"github.com/tphakala/wildlife-reid/internal/errors"
)

// GetJSON decodes the value of id in table into T
func GetJSON[T any](ctx context.Context, s Store, table, id string) (T, error) {
	var out T
	data, err := s.Get(ctx, table, id)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, decodeError(err, table, id)
	}
	return out, nil
}

// SetJSON encodes v and stores it as id in table
func SetJSON(ctx context.Context, s Store, table, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return decodeError(err, table, id)
	}
	return s.Set(ctx, table, id, data)
}

// ValuesJSON decodes every row of table, sorted by id. Rows that fail to decode are an error.
func ValuesJSON[T any](ctx context.Context, s Store, table string) ([]T, error) {
	records, err := s.Values(ctx, table)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(records))
	for _, r := range records {
		var v T
		if err := json.Unmarshal(r.Value, &v); err != nil {
			return nil, decodeError(err, table, r.ID)
		}
		out = append(out, v)
	}
	return out, nil
}

// UpdateJSON runs fn on the decoded row inside a transaction. fn receives the zero value and
// false when the row does not exist. Returning ErrSkip leaves the row untouched.
func UpdateJSON[T any](ctx context.Context, s Store, table, id string, fn func(v *T, exists bool) error) error {
	return s.Update(ctx, table, id, func(current []byte, exists bool) ([]byte, error) {
		var v T
		if exists {
			if err := json.Unmarshal(current, &v); err != nil {
				return nil, decodeError(err, table, id)
			}
		}
		if err := fn(&v, exists); err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
}

// PushJSON encodes v and appends it to list
func PushJSON(ctx context.Context, s Store, list string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return decodeError(err, list, "")
	}
	return s.Push(ctx, list, data)
}

// RangeJSON decodes every element of list in insertion order
func RangeJSON[T any](ctx context.Context, s Store, list string) ([]T, error) {
	values, err := s.Range(ctx, list)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(values))
	for _, data := range values {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, decodeError(err, list, "")
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeError(err error, table, id string) error {
	return errors.New(err).
		Component("kvstore").
		Category(errors.CategoryValidation).
		Context("table", table).
		Context("id", id).
		Build()
}
