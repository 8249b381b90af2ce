package upload

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/clinicops/platform/internal/shared/errors"
)

func TestRead_RawBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("a,b\n1,2\n"))
	body, err := Read(req)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(body))
}

func TestRead_Multipart(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "x.csv")
	require.NoError(t, err)
	fw.Write([]byte("hello"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	body, err := Read(req)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestRead_MultipartWithoutFile(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	_, err := Read(req)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestRead_Rejects(t *testing.T) {
	empty := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(" \n"))
	_, err := Read(empty)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	large := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(make([]byte, MaxSize+1)))
	_, err = Read(large)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}
