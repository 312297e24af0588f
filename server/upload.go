package server

import (
	"errors"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/Tutortoise/object-detection-service/errs"
	"github.com/Tutortoise/object-detection-service/storage"
)

const multipartMemory = 32 << 20

// saveFormFile stores the multipart file in field. A field submitted without
// a filename yields errs.ErrEmptyFilename; a missing field errs.ErrNoFile.
func (s *Server) saveFormFile(w http.ResponseWriter, r *http.Request, field string) (storage.Asset, error) {
	if s.cfg.MaxUploadMB > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadMB<<20)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return storage.Asset{}, err
		}
		if errors.Is(err, http.ErrNotMultipart) {
			return storage.Asset{}, errs.ErrNoFile
		}
		return storage.Asset{}, err
	}

	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		// browsers send an empty filename when nothing was picked; the part
		// then lands in the value map
		if _, ok := r.MultipartForm.Value[field]; ok {
			return storage.Asset{}, errs.ErrEmptyFilename
		}
		return storage.Asset{}, errs.ErrNoFile
	}
	if err != nil {
		return storage.Asset{}, err
	}
	defer file.Close()

	return s.store.SaveUpload(file, header.Filename)
}

// uploadError maps an upload failure to a status and message. noFile and
// noName are the field-specific messages for the two client errors.
func uploadError(err error, noFile, noName string) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, errs.ErrNoFile):
		return http.StatusBadRequest, noFile
	case errors.Is(err, errs.ErrEmptyFilename):
		return http.StatusBadRequest, noName
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, MsgUploadTooLarge
	case errors.Is(err, multipart.ErrMessageTooLarge):
		return http.StatusRequestEntityTooLarge, MsgUploadTooLarge
	}
	if strings.Contains(err.Error(), "request body too large") {
		return http.StatusRequestEntityTooLarge, MsgUploadTooLarge
	}
	if strings.Contains(err.Error(), "multipart") {
		return http.StatusBadRequest, MsgInvalidUpload
	}
	return http.StatusInternalServerError, err.Error()
}

// parseConfidence falls back to def when raw is empty, NaN or not a number
// in [0,1].
func parseConfidence(raw string, def float32) float32 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 32)
	if err != nil || math.IsNaN(v) || v < 0 || v > 1 {
		return def
	}
	return float32(v)
}
