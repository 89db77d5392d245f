package models

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const DefaultImageMIME = "image/png"

var ErrInvalidImage = errors.New("invalid image payload")

// Image is an encoded image with its media type. On the wire it travels as a
// data URL ("data:image/png;base64,...").
type Image struct {
	MIMEType string
	Data     []byte
}

// Empty reports whether the image carries no bytes.
func (i Image) Empty() bool {
	return len(i.Data) == 0
}

// Base64 returns the standard base64 encoding of the image bytes.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL renders the image as a self-describing data URL.
func (i Image) DataURL() string {
	mime := i.MIMEType
	if mime == "" {
		mime = DefaultImageMIME
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, i.Base64())
}

// ParseImage accepts either a data URL or a bare base64 string. Bare payloads
// default to image/png.
func ParseImage(s string) (Image, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Image{}, fmt.Errorf("%w: empty", ErrInvalidImage)
	}

	mime := DefaultImageMIME
	payload := s
	if strings.HasPrefix(s, "data:") {
		header, body, ok := strings.Cut(s, ",")
		if !ok {
			return Image{}, fmt.Errorf("%w: data URL without payload", ErrInvalidImage)
		}
		meta := strings.TrimPrefix(header, "data:")
		if !strings.HasSuffix(meta, ";base64") {
			return Image{}, fmt.Errorf("%w: data URL must be base64 encoded", ErrInvalidImage)
		}
		if m := strings.TrimSuffix(meta, ";base64"); m != "" {
			mime = m
		}
		payload = body
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%w: empty", ErrInvalidImage)
	}
	return Image{MIMEType: mime, Data: data}, nil
}
