package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"strings"
)

const contentTypeJSON = "application/json"

// RawBody is a pre-encoded payload sent byte-for-byte with its own
// content type (multipart forms, CSV uploads).
type RawBody struct {
	ContentType string
	Data        []byte
}

// FilePart is one file field of a multipart body.
type FilePart struct {
	Field    string
	Filename string
	Data     []byte
}

// NewMultipartBody encodes fields and files as multipart/form-data.
func NewMultipartBody(fields map[string]string, files ...FilePart) (RawBody, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return RawBody{}, fmt.Errorf("multipart field %q: %w", k, err)
		}
	}
	for _, f := range files {
		w, err := mw.CreateFormFile(f.Field, f.Filename)
		if err != nil {
			return RawBody{}, fmt.Errorf("multipart file %q: %w", f.Field, err)
		}
		if _, err := w.Write(f.Data); err != nil {
			return RawBody{}, fmt.Errorf("multipart file %q: %w", f.Field, err)
		}
	}
	if err := mw.Close(); err != nil {
		return RawBody{}, err
	}
	return RawBody{ContentType: mw.FormDataContentType(), Data: buf.Bytes()}, nil
}

// encodeBody returns the request body and the content type to set, if any.
// Structured values are JSON-encoded; pass-through payloads are left as is.
func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case RawBody:
		return bytes.NewReader(b.Data), b.ContentType, nil
	case *RawBody:
		if b == nil {
			return nil, "", nil
		}
		return bytes.NewReader(b.Data), b.ContentType, nil
	case json.RawMessage:
		return bytes.NewReader(b), contentTypeJSON, nil
	case []byte:
		return bytes.NewReader(b), "", nil
	case string:
		return strings.NewReader(b), "", nil
	case io.Reader:
		return b, "", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("encode json body: %w", err)
		}
		return bytes.NewReader(data), contentTypeJSON, nil
	}
}

func isJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), contentTypeJSON)
}

// decodeBody parses JSON responses and returns everything else as text.
func decodeBody(contentType string, raw []byte) (any, error) {
	if !isJSON(contentType) {
		return string(raw), nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
