package vfs

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// shortNameLen is the classic 8.3 (FAT/ufs-heritage) short-name budget:
// eight name bytes, a dot, three extension bytes.
const shortNameLen = 8

// invalidShort rejects anything outside the conservative short-name
// alphabet; stripped out rather than rejected, matching the teacher's
// directory format which has no room for an error return on a name
// translation.
var invalidShort = runes.Predicate(func(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
		return false
	default:
		return true
	}
})

// shortNamer is the x/text/transform pipeline a long filename passes
// through to become a directory-entry name this core's ufs-heritage
// on-disk format can store: Unicode-normalize, uppercase, then drop
// anything outside the short-name alphabet.
var shortNamer = transform.Chain(norm.NFC, cases.Upper(language.Und), runes.Remove(invalidShort))

// Shortname folds name down to an 8.3-style short directory-entry name,
// the way original_source/kernel/fs/demofs's flat directory format
// expects (see ufs/ufs.go's FAT-heritage naming). Names that already
// fit are passed through unchanged aside from normalization/case
// folding; longer names are truncated to shortNameLen bytes before the
// extension, the classic "clamp, don't hash" FAT behavior.
func Shortname(name string) string {
	folded, _, err := transform.String(shortNamer, name)
	if err != nil || folded == "" {
		return name
	}
	ext := ""
	base := folded
	if i := strings.LastIndexByte(folded, '.'); i > 0 {
		base, ext = folded[:i], folded[i:]
		if len(ext) > 4 {
			ext = ext[:4]
		}
	}
	if len(base) > shortNameLen {
		base = base[:shortNameLen]
	}
	return base + ext
}
