package provider

import (
	"encoding/base64"
	"errors"
	"strings"
)

// DecodeDataURI decodes a base64 "data:" URI into its bytes and media type.
// ok is false when s is not a data URI.
func DecodeDataURI(s string) (data []byte, contentType string, ok bool, err error) {
	rest, found := strings.CutPrefix(s, "data:")
	if !found {
		return nil, "", false, nil
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return nil, "", true, errors.New("data uri has no payload")
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return nil, "", true, errors.New("only base64 data uris are supported")
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", true, err
	}
	return data, mediaType, true, nil
}
