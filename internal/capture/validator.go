package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Kind is the media kind a file is expected to carry.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

var extensions = map[Kind][]string{
	KindVideo: {".ivf"},
	KindAudio: {".ogg", ".opus"},
}

// FileInfo holds information about a media file to play
type FileInfo struct {
	// Path is the absolute path to the file
	Path string

	// Name is the filename (without directory)
	Name string

	Size int64
	Kind Kind
}

// ValidateFile checks that path exists, is a readable non-empty regular file
// and has an extension matching kind.
func ValidateFile(path string, kind Kind) (FileInfo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: failed to get absolute path: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(absPath))
	if !contains(extensions[kind], ext) {
		return FileInfo{}, fmt.Errorf("%s: %s source must be one of %s", path, kind, strings.Join(extensions[kind], ", "))
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, fmt.Errorf("%s: file does not exist", path)
		}
		return FileInfo{}, fmt.Errorf("%s: failed to stat file: %w", path, err)
	}

	if stat.IsDir() {
		return FileInfo{}, fmt.Errorf("%s: is a directory", path)
	}

	if stat.Size() == 0 {
		return FileInfo{}, fmt.Errorf("%s: file is empty", path)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: cannot open file (check permissions): %w", path, err)
	}
	file.Close()

	return FileInfo{
		Path: absPath,
		Name: filepath.Base(absPath),
		Size: stat.Size(),
		Kind: kind,
	}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// joinErrors joins multiple error messages with newlines
func joinErrors(errors []string) string {
	var result strings.Builder
	for i, err := range errors {
		if i > 0 {
			result.WriteString("\n  - ")
		}
		result.WriteString(err)
	}
	return result.String()
}
