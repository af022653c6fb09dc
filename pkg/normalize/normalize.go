// Package normalize recovers a structured event from the shapes producers
// actually send: decoded objects, raw bytes, JSON text, double-encoded JSON
// text and JSON text with one stray trailing quote.
package normalize

import (
	"reflect"
	"strings"
	"unicode/utf8"

	apperrors "mqdiag/pkg/errors"
	"mqdiag/pkg/jsoncodec"
)

// Event normalizes raw into its structured form.
//
// Already-structured values (maps, slices, structs) and scalars are returned
// unchanged. Byte slices are decoded as UTF-8 text, invalid sequences
// becoming U+FFFD. Text is parsed as JSON; numbers
// decode as json.Number so large integers keep their precision.
func Event(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case []byte:
		return Text(decodeUTF8(v))
	case string:
		return Text(v)
	}

	// Named byte slices such as json.RawMessage are buffers too.
	if rv := reflect.ValueOf(raw); rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return Text(decodeUTF8(rv.Bytes()))
	}
	return raw, nil
}

// decodeUTF8 replaces invalid byte sequences with U+FFFD.
func decodeUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}

// Text parses JSON text, unwrapping one level of string encoding and
// repairing a single stray trailing quote.
func Text(text string) (interface{}, error) {
	text = strings.TrimSpace(text)

	parsed, err := parse(text)
	if err == nil {
		inner, ok := parsed.(string)
		if !ok {
			return parsed, nil
		}
		text = inner
	}

	text = repairTrailingQuote(text)

	parsed, err = parse(text)
	if err != nil {
		return nil, apperrors.ErrNormalization.WithMessage(err.Error()).WithCause(err)
	}
	return parsed, nil
}

// repairTrailingQuote strips one trailing '"' when the braces are balanced
// or over-closed, which is what a quote appended after a complete object
// looks like.
func repairTrailingQuote(text string) string {
	if !strings.HasSuffix(text, `"`) {
		return text
	}
	if strings.Count(text, "{") > strings.Count(text, "}") {
		return text
	}
	return text[:len(text)-1]
}

func parse(text string) (interface{}, error) {
	var v interface{}
	if err := jsoncodec.UnmarshalNumber([]byte(text), &v); err != nil {
		return nil, err
	}
	return v, nil
}
