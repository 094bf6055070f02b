package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// writeResult prints v as indented JSON, or text when format is "text".
func writeResult(w io.Writer, format, text string, v interface{}) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}
