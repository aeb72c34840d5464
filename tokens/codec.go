package tokens

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"filecore/errs"
)

// wirePrefix versions the token wire format. Any change to field order
// or count must bump this prefix so old tokens fail fast as
// TOKEN_INVALID_FORMAT rather than silently misparsing.
const wirePrefix = "LAT:"

// encodeToken renders a token as "LAT:" + base64url(path\x00start\x00end\x00hash\x00total).
// Encoding the whole record as one base64 blob (rather than, say,
// colon-joining raw fields) keeps the wire form URL-safe even when the
// path itself contains characters that would otherwise need escaping.
func encodeToken(t Token) string {
	raw := strings.Join([]string{
		t.Path,
		strconv.Itoa(t.StartLine),
		strconv.Itoa(t.EndLine),
		strconv.FormatUint(uint64(t.RangeContentHash), 16),
		strconv.Itoa(t.TotalLineCountAtIssueTime),
	}, "\x00")
	return wirePrefix + base64.URLEncoding.EncodeToString([]byte(raw))
}

func decodeToken(wire string) (Token, error) {
	if !strings.HasPrefix(wire, wirePrefix) {
		return Token{}, errs.New(errs.TokenInvalidFormat, "missing version prefix").With("wire", wire)
	}
	payload := strings.TrimPrefix(wire, wirePrefix)
	raw, err := base64.URLEncoding.DecodeString(payload)
	if err != nil {
		return Token{}, errs.Wrap(errs.TokenInvalidFormat, err, "invalid base64 payload")
	}
	fields := strings.Split(string(raw), "\x00")
	if len(fields) != 5 {
		return Token{}, errs.New(errs.TokenInvalidFormat, "unexpected field count").
			With("fields", len(fields))
	}

	start, err1 := strconv.Atoi(fields[1])
	end, err2 := strconv.Atoi(fields[2])
	hash, err3 := strconv.ParseUint(fields[3], 16, 32)
	total, err4 := strconv.Atoi(fields[4])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return Token{}, errs.New(errs.TokenInvalidFormat, "unparsable numeric field").
			With("wire", wire)
	}

	return Token{
		Path:                      fields[0],
		StartLine:                 start,
		EndLine:                   end,
		RangeContentHash:          uint32(hash),
		TotalLineCountAtIssueTime: total,
	}, nil
}

// ValidateForSession rejects a decoded token whose path lies under none
// of knownPathPrefixes, returning a TOKEN_PATH_MISMATCH error rather than
// silently accepting it. (ValidateToken separately reports NOT_FOUND for
// a token whose path has no entry in this session's Manager.)
func ValidateForSession(t Token, knownPathPrefixes []string) error {
	for _, prefix := range knownPathPrefixes {
		if strings.HasPrefix(t.Path, prefix) {
			return nil
		}
	}
	return errs.New(errs.TokenPathMismatch, fmt.Sprintf("token path %q not recognized by this session", t.Path))
}
