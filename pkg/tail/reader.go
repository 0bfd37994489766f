// Package tail reads lines appended to a file since the previous read,
// following truncation and rotation by rename.
//
// A truncation that is followed by enough new writes to grow the file past
// the previous offset before the next read cannot be detected; the lines
// written in between are lost. The rest of a rotated file is only delivered
// when it was renamed within the same directory.
package tail

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	nxtail "github.com/nxadm/tail"
)

const (
	DefaultMaxLineBytes  = 1024 * 1024     // 1MB
	DefaultMaxBatchBytes = 8 * 1024 * 1024 // 8MB
)

// Position identifies how far a file has been consumed.
type Position struct {
	Offset int64
	Info   os.FileInfo
}

// SameFile reports whether info refers to the file the position was taken
// from.
func (p Position) SameFile(info os.FileInfo) bool {
	return p.Info != nil && info != nil && os.SameFile(p.Info, info)
}

type Reader struct {
	path          string
	info          os.FileInfo
	offset        int64
	opened        bool
	pending       bool
	retired       *Position
	truncations   int
	rotations     int
	maxLineBytes  int
	maxBatchBytes int
}

func Open(path string, pos Position, opts ...func(*Reader)) *Reader {

	r := &Reader{
		path:          path,
		info:          pos.Info,
		offset:        pos.Offset,
		maxLineBytes:  DefaultMaxLineBytes,
		maxBatchBytes: DefaultMaxBatchBytes,
	}

	for _, o := range opts {
		o(r)
	}

	return r
}

func WithMaxLineBytes(n int) func(*Reader) {
	return func(r *Reader) {
		r.maxLineBytes = n
	}
}

func WithMaxBatchBytes(n int) func(*Reader) {
	return func(r *Reader) {
		r.maxBatchBytes = n
	}
}

func (r *Reader) Path() string {
	return r.path
}

func (r *Reader) Position() Position {
	return Position{
		Offset: r.offset,
		Info:   r.info,
	}
}

// Pending reports whether the previous read stopped before the end of file.
func (r *Reader) Pending() bool {
	return r.pending
}

func (r *Reader) Truncations() int {
	return r.truncations
}

func (r *Reader) Rotations() int {
	return r.rotations
}

// Retired returns, once per rotation, the final position in the file that
// was rotated away. A reader picking the renamed file up continues from it.
func (r *Reader) Retired() (Position, bool) {

	if r.retired == nil {
		return Position{}, false
	}

	pos := *r.retired
	r.retired = nil

	return pos, true
}

// ReadNew returns the complete lines appended since the previous call. A
// trailing line without newline is held back until it is completed. When the
// file is gone from its path, the lines left in it are returned along with a
// FileAccessError.
func (r *Reader) ReadNew() ([]string, error) {

	info, err := os.Stat(r.path)
	if err != nil {
		return r.abandon(), &FileAccessError{Path: r.path, Op: "stat", Err: err}
	}

	var lines []string

	// A position only applies to the same file
	if r.info != nil && !os.SameFile(r.info, info) {
		lines = r.drain()
		if r.opened {
			r.rotations++
		}
		r.offset = 0
	}

	r.info = info
	r.opened = true
	r.pending = false

	if info.Size() < r.offset {
		r.truncations++
		r.offset = 0
	}

	if info.Size() == r.offset {
		return lines, nil
	}

	more, consumed, err := r.read(r.path, r.offset, false)
	if err != nil {
		return lines, err
	}

	// Replaced while reading: the lines may belong to either file
	current, err := os.Stat(r.path)
	if err != nil || !os.SameFile(info, current) {
		r.pending = true
		return lines, nil
	}

	r.offset += consumed

	return append(lines, more...), nil
}

// abandon drains a file that is gone from its path. The reader starts over
// should the path be read again.
func (r *Reader) abandon() []string {

	if r.info == nil {
		return nil
	}

	lines := r.drain()
	r.opened = false
	r.info = nil
	r.offset = 0

	return lines
}

// drain finishes the rotated file under its new name, including a final line
// without newline, and retires its position. Nothing is retired for a file
// that was deleted.
func (r *Reader) drain() []string {

	renamed, ok := r.locate()
	if !ok {
		return nil
	}

	pos := r.Position()
	defer func() {
		r.retired = &pos
	}()

	lines, consumed, err := r.read(renamed, pos.Offset, true)
	if err != nil {
		return nil
	}
	pos.Offset += consumed

	return lines
}

func (r *Reader) locate() (string, bool) {

	dir := filepath.Dir(r.path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	for _, entry := range entries {

		if entry.IsDir() {
			continue
		}

		candidate := filepath.Join(dir, entry.Name())
		info, err := os.Stat(candidate)
		if err == nil && os.SameFile(r.info, info) {
			return candidate, true
		}
	}

	return "", false
}

// read returns the lines of path from offset to its current end and the
// number of bytes they take up.
func (r *Reader) read(path string, offset int64, final bool) ([]string, int64, error) {

	t, err := nxtail.TailFile(path, nxtail.Config{
		Location: &nxtail.SeekInfo{
			Offset: offset,
			Whence: io.SeekStart,
		},
		MustExist: true,
		Poll:      true,
		Logger:    nxtail.DiscardingLogger,
	})
	if err != nil {
		return nil, 0, &FileAccessError{Path: path, Op: "open", Err: err}
	}
	defer t.Stop()

	var lines []string
	var consumed int64
	var last *nxtail.Line

	for line := range t.Lines {

		if line.Err != nil {
			return nil, 0, &FileAccessError{Path: path, Op: "read", Err: line.Err}
		}

		// A line followed by another one ended with a newline
		if last != nil {
			lines = append(lines, strings.TrimSuffix(last.Text, "\r"))
			consumed += int64(len(last.Text)) + 1
		}
		last = line

		if !final && consumed > 0 && consumed+int64(len(line.Text))+1 > int64(r.maxBatchBytes) {
			r.pending = true
			return lines, consumed, nil
		}
	}

	err = t.Wait()
	if err != nil {
		return nil, 0, &FileAccessError{Path: path, Op: "read", Err: err}
	}

	if last == nil {
		return lines, consumed, nil
	}

	size := int64(len(last.Text))
	switch {
	case terminated(path, offset+consumed+size):
		lines = append(lines, strings.TrimSuffix(last.Text, "\r"))
		consumed += size + 1
	case final || size >= int64(r.maxLineBytes):
		lines = append(lines, strings.TrimSuffix(last.Text, "\r"))
		consumed += size
	}

	return lines, consumed, nil
}

// terminated reports whether a newline sits at offset end of path.
func terminated(path string, end int64) bool {

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	b := make([]byte, 1)
	n, _ := f.ReadAt(b, end)

	return n == 1 && b[0] == '\n'
}
