// Package hashutil computes the payload hashes the ledger expects on
// inline messages: base64 of sha256 over the canonical source string of
// the payload (sorted object keys, typed scalars, components joined by
// NUL).
package hashutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// GetBase64Hash returns the ledger payload hash of v. v is first run
// through JSON so struct tags decide field names, then canonicalized.
func GetBase64Hash(v interface{}) (string, error) {
	src, err := SourceString(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(src))
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

// SourceString builds the canonical string the network hashes.
func SourceString(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber() // keep the author's number formatting
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return "", err
	}

	var components []string
	if err := extract(generic, &components); err != nil {
		return "", err
	}
	return strings.Join(components, "\x00"), nil
}

func extract(v interface{}, components *[]string) error {
	switch val := v.(type) {
	case string:
		*components = append(*components, "s", val)
	case json.Number:
		*components = append(*components, "n", val.String())
	case bool:
		*components = append(*components, "b", fmt.Sprintf("%t", val))
	case []interface{}:
		if len(val) == 0 {
			return errors.New("empty array in payload")
		}
		*components = append(*components, "[")
		for _, item := range val {
			if err := extract(item, components); err != nil {
				return err
			}
		}
		*components = append(*components, "]")
	case map[string]interface{}:
		if len(val) == 0 {
			return errors.New("empty object in payload")
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			*components = append(*components, k)
			if err := extract(val[k], components); err != nil {
				return err
			}
		}
	case nil:
		return errors.New("null value in payload")
	default:
		return fmt.Errorf("unsupported type %T in payload", v)
	}
	return nil
}
