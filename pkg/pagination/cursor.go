// Package pagination implements opaque, tamper-evident continuation tokens for
// keyset pagination.
package pagination

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidCursor is returned for malformed, tampered or foreign tokens.
var ErrInvalidCursor = errors.New("invalid cursor")

const (
	tokenVersion   = 1
	maxTokenLength = 4096
	minSecretBytes = 16
)

// Key is the decoded content of a cursor: the sort key values of the last item
// of a page and the fingerprint of the ordering that produced them.
type Key struct {
	Order  string
	Values []any
}

// Codec signs and verifies cursors with HMAC-SHA256. Tokens are base64url so
// they can be placed in URLs unescaped.
type Codec struct {
	secret []byte
}

// NewCodec creates a Codec. The secret must be at least 16 bytes.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) < minSecretBytes {
		return nil, fmt.Errorf("cursor secret must be at least %d bytes", minSecretBytes)
	}
	return &Codec{secret: append([]byte(nil), secret...)}, nil
}

type typedValue struct {
	T string          `json:"t"`
	V json.RawMessage `json:"v"`
}

type payload struct {
	Version int          `json:"v"`
	Order   string       `json:"o"`
	Values  []typedValue `json:"k"`
}

// Encode serializes k into an opaque token.
func (c *Codec) Encode(k Key) (string, error) {
	p := payload{Version: tokenVersion, Order: k.Order, Values: make([]typedValue, 0, len(k.Values))}
	for _, v := range k.Values {
		tv, err := encodeValue(v)
		if err != nil {
			return "", err
		}
		p.Values = append(p.Values, tv)
	}
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(body) + "." + enc.EncodeToString(c.sign(body)), nil
}

// Decode verifies and decodes a token produced by Encode. Every failure wraps
// ErrInvalidCursor.
func (c *Codec) Decode(token string) (Key, error) {
	if token == "" || len(token) > maxTokenLength {
		return Key{}, fmt.Errorf("%w: bad length", ErrInvalidCursor)
	}
	bodyPart, sigPart, ok := strings.Cut(token, ".")
	if !ok {
		return Key{}, fmt.Errorf("%w: malformed", ErrInvalidCursor)
	}
	enc := base64.RawURLEncoding
	body, err := enc.DecodeString(bodyPart)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	sig, err := enc.DecodeString(sigPart)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if !hmac.Equal(sig, c.sign(body)) {
		return Key{}, fmt.Errorf("%w: signature mismatch", ErrInvalidCursor)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var p payload
	if err := dec.Decode(&p); err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if p.Version != tokenVersion {
		return Key{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidCursor, p.Version)
	}
	k := Key{Order: p.Order, Values: make([]any, 0, len(p.Values))}
	for _, tv := range p.Values {
		v, err := decodeValue(tv)
		if err != nil {
			return Key{}, err
		}
		k.Values = append(k.Values, v)
	}
	return k, nil
}

func (c *Codec) sign(body []byte) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(body)
	return mac.Sum(nil)
}

func encodeValue(v any) (typedValue, error) {
	var tag string
	var out any
	switch x := v.(type) {
	case string:
		tag, out = "s", x
	case bool:
		tag, out = "b", x
	case time.Time:
		tag, out = "t", x.UTC().Format(time.RFC3339Nano)
	case uuid.UUID:
		tag, out = "u", x.String()
	case float32, float64:
		tag, out = "f", reflect.ValueOf(x).Float()
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			tag, out = "i", rv.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			tag, out = "n", rv.Uint()
		case reflect.String:
			tag, out = "s", rv.String()
		default:
			return typedValue{}, fmt.Errorf("cursor: unsupported key type %T", v)
		}
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return typedValue{}, fmt.Errorf("cursor: %w", err)
	}
	return typedValue{T: tag, V: raw}, nil
}

func decodeValue(tv typedValue) (any, error) {
	bad := func(err error) (any, error) {
		return nil, fmt.Errorf("%w: key %q: %v", ErrInvalidCursor, tv.T, err)
	}
	switch tv.T {
	case "s":
		var s string
		if err := json.Unmarshal(tv.V, &s); err != nil {
			return bad(err)
		}
		return s, nil
	case "b":
		var b bool
		if err := json.Unmarshal(tv.V, &b); err != nil {
			return bad(err)
		}
		return b, nil
	case "t":
		var s string
		if err := json.Unmarshal(tv.V, &s); err != nil {
			return bad(err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return bad(err)
		}
		return t, nil
	case "u":
		var s string
		if err := json.Unmarshal(tv.V, &s); err != nil {
			return bad(err)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return bad(err)
		}
		return id, nil
	case "f":
		var f float64
		if err := json.Unmarshal(tv.V, &f); err != nil {
			return bad(err)
		}
		return f, nil
	case "i":
		var i int64
		if err := json.Unmarshal(tv.V, &i); err != nil {
			return bad(err)
		}
		return i, nil
	case "n":
		var n uint64
		if err := json.Unmarshal(tv.V, &n); err != nil {
			return bad(err)
		}
		return n, nil
	}
	return bad(errors.New("unknown type tag"))
}
