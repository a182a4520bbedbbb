package codegen

import (
	"path"
	"strings"
	"unicode"
)

// TypeName turns a protocol name into a class or struct name:
// "chat.room_state" becomes "ChatRoomState".
func TypeName(protocol string) string {
	return pascal(protocol)
}

// ExportName turns a field name into an exported Go identifier.
func ExportName(name string) string {
	return pascal(name)
}

func pascal(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if r == '.' || r == '_' {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// snake turns "ChatRoomState" into "chat_room_state".
func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// relImport returns an extensionless relative import path from the file
// at from to the file at to.
func relImport(from, to string) string {
	fromParts := strings.Split(path.Dir(from), "/")
	toParts := strings.Split(path.Dir(to), "/")
	if fromParts[0] == "." {
		fromParts = nil
	}
	if toParts[0] == "." {
		toParts = nil
	}
	i := 0
	for i < len(fromParts) && i < len(toParts) && fromParts[i] == toParts[i] {
		i++
	}
	var parts []string
	for range fromParts[i:] {
		parts = append(parts, "..")
	}
	parts = append(parts, toParts[i:]...)
	base := strings.TrimSuffix(path.Base(to), path.Ext(to))
	parts = append(parts, base)
	rel := strings.Join(parts, "/")
	if !strings.HasPrefix(rel, "..") {
		rel = "./" + rel
	}
	return rel
}
