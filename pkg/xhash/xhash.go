// Package xhash provides canonical JSON encoding and hashing used to derive
// transaction and block identifiers.
package xhash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Canonical returns the canonical JSON encoding of v: object keys sorted
// lexicographically at every level, no HTML escaping, compact separators.
// Two values that are equal after this encoding hash identically regardless
// of how their Go struct fields were ordered or tagged.
func Canonical(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := encode(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns sha256(Canonical(v)). It panics if v cannot be marshaled,
// since every hashed type in this module is expected to be JSON-safe.
func Hash(v interface{}) [32]byte {
	data, err := Canonical(v)
	if err != nil {
		panic("xhash: value not canonically encodable: " + err.Error())
	}
	return sha256.Sum256(data)
}

// HashBytes returns the plain SHA-256 digest of raw bytes, used for Merkle
// tree node concatenation where there is no JSON structure to canonicalize.
func HashBytes(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// AddressFromPublicKey derives an address as the first 40 hex characters
// of SHA-256(pubKeyBytes) — the first 20 bytes of the digest, hex-encoded.
func AddressFromPublicKey(pubKeyBytes []byte) string {
	h := sha256.Sum256(pubKeyBytes)
	return hex.EncodeToString(h[:])[:40]
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := marshalNoEscape(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	default:
		enc, err := marshalNoEscape(val)
		if err != nil {
			return err
		}
		buf.Write(enc)
		return nil
	}
}

// marshalNoEscape is json.Marshal without HTML escaping of <, > and &.
func marshalNoEscape(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(b.Bytes(), []byte("\n")), nil
}
