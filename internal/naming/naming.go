// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package naming derives stable identifiers from free-form names.
package naming

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// MaxLength bounds every identifier produced by this package.
const MaxLength = 100

// Slug reduces s to letters, digits, '_' and '-'. Runs of other characters
// become a single '_' and leading or trailing separators are dropped.
func Slug(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
		default:
			pending = true
		}
	}
	return strings.Trim(b.String(), "_-")
}

// Hash returns the FNV-32a hash of parts as eight hex digits. Parts are
// separated by a zero byte so different splits of the same text differ.
func Hash(parts ...string) string {
	h := fnv.New32a()
	for _, part := range parts {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%08x", h.Sum32())
}

// Compose joins parts with '-' and truncates the result to MaxLength.
// When truncation happens a deterministic hash suffix is appended so the
// result stays unique and stable.
func Compose(parts ...string) string {
	base := strings.Join(parts, "-")
	if len(base) <= MaxLength {
		return base
	}
	suffix := Hash(parts...)
	prefix := strings.TrimRight(base[:MaxLength-len(suffix)-1], "-_")
	if prefix == "" {
		return suffix
	}
	return prefix + "-" + suffix
}

// RelValID derives the identifier of the RelVal generated for sampleKey of
// ticketID. The sample key is slugged and always followed by its hash, so
// two keys that slug to the same text still get distinct identifiers.
func RelValID(ticketID, sampleKey string) string {
	slug := Slug(sampleKey)
	if slug == "" {
		slug = "sample"
	}
	return Compose(ticketID, slug, Hash(ticketID, sampleKey))
}
