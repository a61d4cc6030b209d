package keys

import (
	"fmt"
	"strconv"
	"strings"

	tierrors "github.com/mirkobrombin/go-tiercache/v1/errors"
)

// segment is either a literal run of text or a positional placeholder.
type segment struct {
	lit string
	idx int // -1 for literals
}

// parseTemplate splits a template into literals and {N} placeholders.
// "{{" and "}}" escape literal braces.
func parseTemplate(template string) ([]segment, error) {
	var (
		segs []segment
		lit  strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			segs = append(segs, segment{lit: lit.String(), idx: -1})
			lit.Reset()
		}
	}
	for i := 0; i < len(template); i++ {
		c := template[i]
		switch c {
		case '{':
			if i+1 < len(template) && template[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(template[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated placeholder at %d in %q", tierrors.ErrMalformedTemplate, i, template)
			}
			raw := template[i+1 : i+1+end]
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 || strings.TrimSpace(raw) != raw {
				return nil, fmt.Errorf("%w: bad placeholder {%s} in %q", tierrors.ErrMalformedTemplate, raw, template)
			}
			flush()
			segs = append(segs, segment{idx: n})
			i += end + 1
		case '}':
			if i+1 < len(template) && template[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return nil, fmt.Errorf("%w: stray '}' at %d in %q", tierrors.ErrMalformedTemplate, i, template)
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return segs, nil
}

// arity returns the number of distinct placeholder indexes and whether they
// form the contiguous range 0..n-1.
func arity(segs []segment) (int, bool) {
	seen := make(map[int]struct{})
	maxIdx := -1
	for _, s := range segs {
		if s.idx < 0 {
			continue
		}
		seen[s.idx] = struct{}{}
		if s.idx > maxIdx {
			maxIdx = s.idx
		}
	}
	return len(seen), maxIdx+1 == len(seen)
}

func format(template string, params []Param) (string, error) {
	segs, err := parseTemplate(template)
	if err != nil {
		return "", err
	}
	n, contiguous := arity(segs)
	if !contiguous || n != len(params) {
		return "", fmt.Errorf("%w: %q expects %d params, got %d", tierrors.ErrTemplateArity, template, n, len(params))
	}
	return render(segs, params, false), nil
}

func formatPrefix(template string, params []Param) (string, error) {
	segs, err := parseTemplate(template)
	if err != nil {
		return "", err
	}
	if n, _ := arity(segs); len(params) > n {
		return "", fmt.Errorf("%w: %q has %d placeholders, got %d params", tierrors.ErrTemplateArity, template, n, len(params))
	}
	return render(segs, params, true), nil
}

// render substitutes params. With cut set, rendering stops at the first
// placeholder without a param.
func render(segs []segment, params []Param, cut bool) string {
	var b strings.Builder
	for _, s := range segs {
		if s.idx < 0 {
			b.WriteString(s.lit)
			continue
		}
		if s.idx >= len(params) {
			if cut {
				break
			}
			continue
		}
		b.WriteString(params[s.idx].Token())
	}
	return b.String()
}
