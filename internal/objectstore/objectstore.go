// Package objectstore uploads applicant documents and issued certificates
// and hands back durable references.
package objectstore

import (
	"context"
	"errors"
	"io"
)

// ErrStorage wraps every failure of the backing store. Callers treat it as a
// dependency failure, distinct from a rejected upload.
var ErrStorage = errors.New("object storage failure")

// Object is a file ready to upload. Body has already passed the upload policy.
type Object struct {
	Name        string
	ContentType string
	Size        int64
	Folder      string
	Body        io.Reader
}

// Reference locates an uploaded object.
type Reference struct {
	URL string
	Key string
}

type Store interface {
	Put(ctx context.Context, obj Object) (Reference, error)
}
