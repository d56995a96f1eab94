// Package docs validates the YAML frontmatter of the design documentation.
package docs

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoFrontmatter is returned when a document does not start with a --- block.
var ErrNoFrontmatter = errors.New("document has no frontmatter")

const delimiter = "---"

// ParseFrontmatter splits content into its frontmatter fields and body.
// The block must start on the first line and be closed by a line holding
// only "---".
func ParseFrontmatter(content []byte) (map[string]any, []byte, error) {
	content = bytes.TrimPrefix(content, []byte("\ufeff"))
	text := strings.ReplaceAll(string(content), "\r\n", "\n")

	if !strings.HasPrefix(text, delimiter+"\n") {
		return nil, content, ErrNoFrontmatter
	}
	rest := text[len(delimiter)+1:]

	var block, body string
	switch {
	case strings.HasPrefix(rest, delimiter+"\n") || rest == delimiter:
		// empty block
		body = strings.TrimPrefix(strings.TrimPrefix(rest, delimiter), "\n")
	default:
		end := strings.Index(rest, "\n"+delimiter+"\n")
		if end < 0 {
			if !strings.HasSuffix(rest, "\n"+delimiter) {
				return nil, content, fmt.Errorf("frontmatter block is not closed")
			}
			end = len(rest) - len(delimiter) - 1
			block = rest[:end]
		} else {
			block = rest[:end]
			body = rest[end+len(delimiter)+2:]
		}
	}

	fields := map[string]any{}
	if strings.TrimSpace(block) != "" {
		if err := yaml.Unmarshal([]byte(block), &fields); err != nil {
			return nil, content, fmt.Errorf("invalid frontmatter YAML: %w", err)
		}
	}
	return fields, []byte(body), nil
}
