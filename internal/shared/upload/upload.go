// Package upload reads files posted to the API.
package upload

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/clinicops/platform/internal/shared/errors"
)

// MaxSize is the largest accepted upload.
const MaxSize = 10 << 20

// Read returns the uploaded file: the "file" part of a multipart form, or
// the raw request body. Empty and oversized uploads are bad requests.
func Read(r *http.Request) ([]byte, error) {
	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(MaxSize); err != nil {
			return nil, apperrors.BadRequest("invalid multipart form")
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, apperrors.BadRequest("file is required")
		}
		defer file.Close()
		src = file
	}

	body, err := io.ReadAll(io.LimitReader(src, MaxSize+1))
	if err != nil {
		return nil, apperrors.BadRequest("failed to read upload")
	}
	if len(body) > MaxSize {
		return nil, apperrors.BadRequest("upload is too large")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, apperrors.BadRequest("upload is empty")
	}
	return body, nil
}
