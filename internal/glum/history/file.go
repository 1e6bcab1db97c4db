package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bdobrica/glum/common/atomicfile"
)

// FileBackend stores each thread as a JSON array of {role, content} records
// in Dir/<escaped thread id>.json.
type FileBackend struct {
	Dir string
}

// NewFileBackend returns a backend rooted at dir. The directory is created on
// first save.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{Dir: dir}
}

// Path returns the file that holds threadID's transcript.
func (b *FileBackend) Path(threadID string) string {
	return filepath.Join(b.Dir, escapeThreadID(threadID)+".json")
}

func (b *FileBackend) Load(ctx context.Context, threadID string) ([]Message, error) {
	data, err := os.ReadFile(b.Path(threadID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history file: %w", err)
	}

	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("decode history file %s: %w", b.Path(threadID), err)
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("history file %s: message %d has unknown role %q", b.Path(threadID), i, m.Role)
		}
	}
	return msgs, nil
}

// Save writes msgs to a temporary file in Dir and renames it over the
// thread's file.
func (b *FileBackend) Save(ctx context.Context, threadID string, msgs []Message) error {
	if msgs == nil {
		msgs = []Message{}
	}
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return atomicfile.Write(b.Path(threadID), data)
}

// escapeThreadID maps a platform thread id to a file name. Letters, digits,
// '-' and '_' are kept; every other byte becomes %XX so distinct ids never
// collide and ids like ".." cannot leave Dir.
func escapeThreadID(id string) string {
	var sb strings.Builder
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			sb.WriteByte(c)
		default:
			fmt.Fprintf(&sb, "%%%02X", c)
		}
	}
	return sb.String()
}
