package server

import (
	"encoding/hex"
	"fmt"

	"github.com/danmuck/protoreg/internal/protocol/registration"
)

// Render converts a decoded value into a JSON-encodable tree. Map keys are
// printed with %v and byte slices become hex strings.
func Render(v any) any {
	switch x := v.(type) {
	case *registration.Message:
		if x == nil {
			return nil
		}
		fields := make([]any, len(x.Fields))
		for i, f := range x.Fields {
			fields[i] = Render(f)
		}
		return map[string]any{"type": x.Type, "fields": fields}
	case []byte:
		return hex.EncodeToString(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Render(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprintf("%v", k)] = Render(e)
		}
		return out
	default:
		return v
	}
}
