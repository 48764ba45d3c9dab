// Package mimetype maps output file names to the Content-Type stored on
// the uploaded object. The table is fixed and case sensitive.
package mimetype

import "strings"

const (
	CSS        = "text/css"
	HTML       = "text/html"
	PNG        = "image/png"
	JavaScript = "application/javascript"
	JPEG       = "image/jpeg"
	JSON       = "application/json"
	Binary     = "application/octet-stream"
	SVG        = "image/svg"
	Default    = "text/plain"
)

var byExt = map[string]string{
	"css":  CSS,
	"html": HTML,
	"png":  PNG,
	"js":   JavaScript,
	"jpg":  JPEG,
	"json": JSON,
	"map":  Binary,
	"svg":  SVG,
}

// Ext returns the text after the last ".", or "" when name has none.
func Ext(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return name[i+1:]
}

// Resolve returns the content type for name, Default when the extension is
// missing or unknown.
func Resolve(name string) string {
	if t, ok := byExt[Ext(name)]; ok {
		return t
	}
	return Default
}
