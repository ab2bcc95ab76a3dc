// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingestion

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/poiesic/lattice/core"
	"github.com/russross/blackfriday/v2"
)

// Parse extracts plain text from a document according to its extension.
// Unsupported extensions fail with core.ErrUnsupportedFormat and a
// document without any text fails with core.ErrEmptyContent.
func Parse(filename string, data []byte) (string, error) {
	if err := core.ValidateFilename(filename); err != nil {
		return "", err
	}

	var text string
	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		text, err = parsePDF(data)
	case ".md", ".markdown":
		text = parseMarkdown(data)
	default:
		text = string(data)
	}
	if err != nil {
		return "", err
	}

	text = normalizeText(text)
	if strings.TrimSpace(text) == "" {
		return "", core.ErrEmptyContent
	}
	return text, nil
}

// parsePDF returns the plain text of every page. The pdf reader panics on
// some malformed inputs, so panics are reported as parse errors.
func parsePDF(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	var buf strings.Builder
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return buf.String(), nil
}

// parseMarkdown renders the markdown AST to text. Block elements end with
// a blank line so the chunker can cut on paragraph breaks.
func parseMarkdown(data []byte) string {
	md := blackfriday.New(blackfriday.WithExtensions(blackfriday.CommonExtensions))
	root := md.Parse(data)

	var buf strings.Builder
	root.Walk(func(node *blackfriday.Node, entering bool) blackfriday.WalkStatus {
		switch node.Type {
		case blackfriday.Text, blackfriday.Code:
			if entering {
				buf.Write(node.Literal)
			}
		case blackfriday.CodeBlock:
			buf.Write(node.Literal)
			buf.WriteString("\n\n")
		case blackfriday.Softbreak, blackfriday.Hardbreak:
			buf.WriteByte('\n')
		case blackfriday.Paragraph, blackfriday.Heading, blackfriday.Item, blackfriday.TableRow:
			if !entering {
				buf.WriteString("\n\n")
			}
		case blackfriday.TableCell:
			if !entering {
				buf.WriteByte(' ')
			}
		}
		return blackfriday.GoToNext
	})
	return buf.String()
}

// normalizeText drops invalid UTF-8 and unifies line endings.
func normalizeText(text string) string {
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
