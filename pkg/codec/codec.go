// Package codec maps file content to a text form that can live inside a
// registry document field, and back.
package codec

import (
	"encoding/base64"
	"fmt"
)

// Encode returns the padded standard base64 form of data.
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Decode is the exact inverse of Encode.
func Decode(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return data, nil
}
