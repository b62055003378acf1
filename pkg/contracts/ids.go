package contracts

import (
	"strconv"
	"strings"
)

// Identifier conventions carried over from the upstream system:
//
//	transfer id:    transfer-{entity-slug}-{country-slug}
//	requirement id: req-{transferID}-{n}
//	evidence key:   evidence_{uuid}
//
// The prefix rules below are the single place these string contracts are
// interpreted. Callers must not re-derive them.

// TransferID identifies one Transfer aggregate.
type TransferID string

// RequirementID identifies one Requirement within a Transfer.
type RequirementID string

const (
	transferIDPrefix    = "transfer-"
	requirementIDPrefix = "req-"
)

// MatchesTransfer reports whether the requirement id follows the
// req-{transferID}- convention for the given transfer.
func (r RequirementID) MatchesTransfer(t TransferID) bool {
	if t == "" {
		return false
	}
	return strings.HasPrefix(string(r), requirementIDPrefix+string(t)+"-")
}

// FallbackTransferID applies the legacy fallback: replace the leading "req-"
// with "transfer-" and treat the result as a transfer id. Returns false when
// the requirement id does not carry the req- prefix at all.
func (r RequirementID) FallbackTransferID() (TransferID, bool) {
	s := string(r)
	if !strings.HasPrefix(s, requirementIDPrefix) {
		return "", false
	}
	return TransferID(transferIDPrefix + strings.TrimPrefix(s, requirementIDPrefix)), true
}

// ChildRequirementID builds the nth requirement id under a transfer.
func ChildRequirementID(t TransferID, n int) RequirementID {
	return RequirementID(requirementIDPrefix + string(t) + "-" + strconv.Itoa(n))
}

// SlugTransferID derives the deterministic transfer id for an
// (entity, country) pair: transfer-{slug(entity)}-{slug(country)}.
func SlugTransferID(entity, country string) TransferID {
	return TransferID(transferIDPrefix + slug(entity) + "-" + slug(country))
}

// slug lowercases and collapses anything that is not [a-z0-9] into single
// dashes, trimming leading and trailing dashes.
func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, c := range strings.ToLower(s) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteRune(c)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// FileTypeFromName classifies a filename by extension. Unknown extensions
// map to OTHER; the engine never rejects on file type.
func FileTypeFromName(name string) FileType {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return FileTypeOther
	}
	switch strings.ToLower(name[i+1:]) {
	case "pdf":
		return FileTypePDF
	case "doc", "docx":
		return FileTypeDoc
	case "xls", "xlsx", "csv":
		return FileTypeXLS
	default:
		return FileTypeOther
	}
}
