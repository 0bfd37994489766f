package tail

import "fmt"

// FileAccessError reports that a tailed file disappeared or became
// unreadable. It is recoverable: the caller drops the file and may pick it up
// again later.
type FileAccessError struct {
	Path string
	Op   string
	Err  error
}

func (e *FileAccessError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileAccessError) Unwrap() error {
	return e.Err
}
