package main

import (
	"strconv"
	"strings"

	"github.com/mirkobrombin/go-tiercache/v1/keys"
)

// parseParam turns a command line argument into a key parameter: "null",
// integers, decimals and bracketed integer lists ("[3,1,2]") get their own
// variant, anything else is used verbatim.
func parseParam(s string) keys.Param {
	if s == "null" {
		return keys.Null()
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		if ids, ok := parseIDs(s[1 : len(s)-1]); ok {
			return keys.Ints(ids)
		}
		return keys.Opaque(s)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return keys.Int(n)
	}
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return keys.Decimal(f)
		}
	}
	return keys.Opaque(s)
}

func parseIDs(list string) ([]int64, bool) {
	if strings.TrimSpace(list) == "" {
		return nil, true
	}
	parts := strings.Split(list, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, false
		}
		ids = append(ids, n)
	}
	return ids, true
}

func parseParams(args []string) []keys.Param {
	out := make([]keys.Param, len(args))
	for i, a := range args {
		out[i] = parseParam(a)
	}
	return out
}
