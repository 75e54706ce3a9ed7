package splice

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"

	"splice.sh/core/pipeline"
	"splice.sh/core/splice/generator"
)

var contentTypes = map[string]string{
	"mp4":  "video/mp4",
	"mov":  "video/quicktime",
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"flac": "audio/flac",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"webp": "image/webp",
	"gif":  "image/gif",
}

func contentTypeFor(ext, fallback string) string {
	if ct, ok := contentTypes[strings.ToLower(strings.TrimPrefix(ext, "."))]; ok {
		return ct
	}
	if fallback != "" {
		return fallback
	}
	return "application/octet-stream"
}

var (
	uploadExtPattern = regexp.MustCompile(`^\.[A-Za-z0-9]{1,16}$`)
	aliasPattern     = regexp.MustCompile(`(?i)^[a-z0-9-]{1,64}$`)
	stepIDPattern    = regexp.MustCompile(`(?i)^step-[0-9]+$`)
)

// saveUploads writes each upload into ws as file-{n}{ext} and returns
// the files in upload order with a table mapping their ids to paths.
func saveUploads(ws string, uploads []*multipart.FileHeader) ([]generator.FileInfo, pipeline.Table, error) {
	files := make([]generator.FileInfo, 0, len(uploads))
	table := pipeline.Table{}

	for i, fh := range uploads {
		id := fmt.Sprintf("file-%d", i+1)

		ext := filepath.Ext(fh.Filename)
		if !uploadExtPattern.MatchString(ext) {
			ext = ""
		}

		path, err := securejoin.SecureJoin(ws, id+strings.ToLower(ext))
		if err != nil {
			return nil, nil, err
		}
		if err := saveUpload(fh, path); err != nil {
			return nil, nil, fmt.Errorf("saving %s: %w", id, err)
		}

		name := filepath.Base(fh.Filename)
		if name == "" || name == "." || name == "/" {
			name = id
		}
		files = append(files, generator.FileInfo{
			ID:          id,
			Name:        name,
			ContentType: contentTypeFor(ext, fh.Header.Get("Content-Type")),
		})
		table[id] = path
	}

	return files, table, nil
}

func saveUpload(fh *multipart.FileHeader, path string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// validAlias reports whether alias can be used as a reference id
// without shadowing a step output.
func validAlias(alias string) bool {
	return aliasPattern.MatchString(alias) && !stepIDPattern.MatchString(alias)
}
