package bus

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	buserrors "github.com/odvcencio/meshbus/pkg/errors"
)

// Token is one element of a Topic. Valid concrete values are string,
// int and int64; a Literal wraps any of these to force literal matching even when the
// wrapped value equals the bus's configured wildcard symbols.
type Token any

// Literal forces its wrapped value to match literally, even if it is
// equal to the bus's single- or multi-level wildcard symbol.
type Literal struct {
	Value any
}

// Topic is an ordered, dense sequence of tokens addressing a message,
// subscription pattern, or endpoint.
type Topic []Token

// String renders a topic for diagnostics; it is not used for matching.
func (t Topic) String() string {
	parts := make([]string, len(t))
	for i, tok := range t {
		parts[i] = tokenString(tok)
	}
	return strings.Join(parts, "/")
}

func tokenString(tok Token) string {
	switch v := tok.(type) {
	case Literal:
		return fmt.Sprintf("=%v", v.Value)
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// isWildcardToken reports whether tok is the bus's configured single- or
// multi-level wildcard symbol, and is not wrapped in Literal.
func isWildcardToken(tok Token, sWild, mWild string) (isS, isM bool) {
	if _, ok := tok.(Literal); ok {
		return false, false
	}
	s, ok := tok.(string)
	if !ok {
		return false, false
	}
	return s == sWild, s == mWild
}

// ValidatePattern checks a subscription pattern (or a retained-store
// query) per spec.md §3 I1 and §9 "Pattern validation": tokens must be
// string/int/int64/Literal, and a
// multi-level wildcard, if present, must be the last token.
func ValidatePattern(pattern Topic, sWild, mWild string) error {
	for i, tok := range pattern {
		if err := validateTokenType(tok); err != nil {
			return err
		}
		_, isM := isWildcardToken(tok, sWild, mWild)
		if isM && i != len(pattern)-1 {
			return buserrors.New(buserrors.CodeInvalidTopic, "multi-level wildcard must be the last token").
				WithContext("position", i).
				WithContext("length", len(pattern))
		}
	}
	return nil
}

// ValidateConcrete checks that topic contains no wildcard tokens (per
// spec.md §3: endpoints and retained entries require a concrete topic).
func ValidateConcrete(topic Topic, sWild, mWild string) error {
	for i, tok := range topic {
		if err := validateTokenType(tok); err != nil {
			return err
		}
		isS, isM := isWildcardToken(tok, sWild, mWild)
		if isS || isM {
			return buserrors.New(buserrors.CodeInvalidTopic, "topic must be concrete, no wildcards permitted").
				WithContext("position", i)
		}
	}
	return nil
}

func validateTokenType(tok Token) error {
	switch tok.(type) {
	case string, int, int64, Literal:
		return nil
	default:
		return buserrors.New(buserrors.CodeInvalidTopic, "token must be string, int, int64, or Literal").
			WithContext("type", fmt.Sprintf("%T", tok))
	}
}

// CanonicalKey encodes a concrete topic into a stable, equality-
// respecting key for the endpoint index (spec.md §9 "Canonical
// concrete-topic key"). Each token is length-prefixed with a type tag so
// the string "1" and the integer 1 never collide, and Literal wrappers
// are unwrapped before encoding (their literalness already determined
// matching; the key only needs the raw value).
func CanonicalKey(topic Topic) (string, error) {
	var sb strings.Builder
	for _, tok := range topic {
		if lit, ok := tok.(Literal); ok {
			tok = lit.Value
		}
		switch v := tok.(type) {
		case string:
			writeTagged(&sb, 's', v)
		case int:
			writeTagged(&sb, 'i', strconv.FormatInt(int64(v), 10))
		case int64:
			writeTagged(&sb, 'i', strconv.FormatInt(v, 10))
		default:
			return "", buserrors.New(buserrors.CodeInvalidTopic, "token must be string, int, int64, or Literal").
				WithContext("type", fmt.Sprintf("%T", tok))
		}
	}
	return sb.String(), nil
}

func writeTagged(sb *strings.Builder, tag byte, s string) {
	sb.WriteByte(tag)
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(s)))
	sb.Write(lenBuf[:])
	sb.WriteString(s)
}

// tokenKey returns the trie child-map key for a concrete (non-wildcard)
// token, unwrapping Literal and distinguishing string from integer
// token-space the same way CanonicalKey does.
func tokenKey(tok Token) (string, error) {
	if lit, ok := tok.(Literal); ok {
		tok = lit.Value
	}
	switch v := tok.(type) {
	case string:
		return "s:" + v, nil
	case int:
		return "i:" + strconv.FormatInt(int64(v), 10), nil
	case int64:
		return "i:" + strconv.FormatInt(v, 10), nil
	default:
		return "", buserrors.New(buserrors.CodeInvalidTopic, "token must be string, int, int64, or Literal").
			WithContext("type", fmt.Sprintf("%T", tok))
	}
}
