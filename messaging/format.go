// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// markdown is the shared converter for message formatting. GFM gives
// tables, strikethrough, and autolinks, which cover the constructs
// other Matrix clients render in formatted bodies.
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// ComposeMarkdown builds an m.room.message content from markdown
// source. The plain Body carries the raw markdown (the fallback
// representation for clients that do not render HTML) and
// FormattedBody carries the rendered org.matrix.custom.html.
//
// When the source contains no markup the rendered HTML adds nothing,
// so the formatted fields are left empty and the message is sent as
// plain text.
func ComposeMarkdown(source string) (MessageContent, error) {
	var rendered bytes.Buffer
	if err := markdown.Convert([]byte(source), &rendered); err != nil {
		return MessageContent{}, fmt.Errorf("messaging: rendering markdown: %w", err)
	}

	html := strings.TrimSpace(rendered.String())

	// goldmark wraps bare text in a single paragraph. If stripping that
	// wrapper reproduces the source, the markdown added no formatting.
	if stripped, ok := strings.CutPrefix(html, "<p>"); ok {
		if stripped, ok = strings.CutSuffix(stripped, "</p>"); ok {
			if stripped == source {
				return NewTextMessage(source), nil
			}
		}
	}

	return MessageContent{
		MsgType:       "m.text",
		Body:          source,
		Format:        "org.matrix.custom.html",
		FormattedBody: html,
	}, nil
}
