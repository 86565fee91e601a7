package index

import (
	"strconv"
	"strings"

	"github.com/example/bdl/internal/item"
)

// DefaultTemplate names stored files by index position and extension.
const DefaultTemplate = "{position}.{extension}"

// BuildStorename renders a storename template for one item. {position},
// {filename} and {extension} come from the item and its index position,
// every metadata entry is addressable by its key. Unknown keys render
// empty, an unterminated brace is kept literally.
func BuildStorename(it *item.Item, position int64, template string) string {
	var b strings.Builder
	for n := 0; n < len(template); {
		if template[n] != '{' {
			b.WriteByte(template[n])
			n++
			continue
		}
		end := strings.IndexByte(template[n:], '}')
		if end < 0 {
			b.WriteString(template[n:])
			break
		}
		b.WriteString(templateKey(it, position, template[n+1:n+end]))
		n += end + 1
	}
	return b.String()
}

func templateKey(it *item.Item, position int64, key string) string {
	switch key {
	case "position":
		return strconv.FormatInt(position, 10)
	case "filename":
		return it.Filename()
	case "extension":
		return it.Extension()
	}
	return it.Metadata().Get(key)
}
