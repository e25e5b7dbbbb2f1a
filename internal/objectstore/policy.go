package objectstore

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	dErrors "certdesk/pkg/domain-errors"
)

const DefaultMaxBytes int64 = 2 << 20

// Policy decides whether an uploaded file is accepted.
type Policy struct {
	Extensions []string
	MIMETypes  []string
	MaxBytes   int64
}

// ImagePolicy accepts jpg/jpeg/png images up to maxBytes.
func ImagePolicy(maxBytes int64) Policy {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return Policy{
		Extensions: []string{".jpg", ".jpeg", ".png"},
		MIMETypes:  []string{"image/jpeg", "image/png"},
		MaxBytes:   maxBytes,
	}
}

// Check validates name, size and sniffed content. head must hold the start
// of the file (the whole file is fine).
func (p Policy) Check(label, filename string, size int64, head []byte) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !slices.Contains(p.Extensions, ext) {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("%s: file type %q not allowed (allowed: %s)", label, ext, strings.Join(p.Extensions, ", ")))
	}
	if size <= 0 {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s: file is empty", label))
	}
	if size > p.MaxBytes {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("%s: file exceeds %d bytes", label, p.MaxBytes))
	}
	detected := mimetype.Detect(head)
	if !slices.ContainsFunc(p.MIMETypes, detected.Is) {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("%s: content is %s, not an allowed image", label, detected.String()))
	}
	return nil
}

// Open reads a multipart upload, applies the policy and returns an Object
// backed by the file's bytes.
func (p Policy) Open(label string, fh *multipart.FileHeader, folder string) (Object, error) {
	if fh.Size > p.MaxBytes {
		return Object{}, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("%s: file exceeds %d bytes", label, p.MaxBytes))
	}
	f, err := fh.Open()
	if err != nil {
		return Object{}, dErrors.Wrap(err, dErrors.CodeBadRequest, fmt.Sprintf("%s: unreadable upload", label))
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, p.MaxBytes+1))
	if err != nil {
		return Object{}, dErrors.Wrap(err, dErrors.CodeBadRequest, fmt.Sprintf("%s: unreadable upload", label))
	}
	if err := p.Check(label, fh.Filename, int64(len(data)), data); err != nil {
		return Object{}, err
	}
	return Object{
		Name:        fh.Filename,
		ContentType: mimetype.Detect(data).String(),
		Size:        int64(len(data)),
		Folder:      folder,
		Body:        bytes.NewReader(data),
	}, nil
}
