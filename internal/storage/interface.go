package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Storage interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ObjectKey builds a collision free key such as
// imports/lecturer/2025/06/01/<uuid>.xlsx for an uploaded workbook.
func ObjectKey(prefix, entity, filename string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".xlsx"
	}
	if prefix == "" {
		prefix = "imports"
	}
	return path.Join(prefix, entity, now.Format("2006/01/02"), fmt.Sprintf("%s%s", uuid.NewString(), ext))
}
