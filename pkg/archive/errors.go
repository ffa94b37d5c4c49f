package archive

import "fmt"

// SourceUnreadableError is returned by Build when the source directory
// itself can't be enumerated.
type SourceUnreadableError struct {
	Path string
	Err  error
}

func (err SourceUnreadableError) Error() string {
	return fmt.Sprintf("read source directory %q: %s", err.Path, err.Err)
}

func (err SourceUnreadableError) Unwrap() error {
	return err.Err
}

// ArchiveWriteFailedError is returned by Build when the archive file can't
// be created.
type ArchiveWriteFailedError struct {
	Path string
	Err  error
}

func (err ArchiveWriteFailedError) Error() string {
	return fmt.Sprintf("write archive %q: %s", err.Path, err.Err)
}

func (err ArchiveWriteFailedError) Unwrap() error {
	return err.Err
}

// CorruptArchiveError is returned by Restore when the archive can't be
// opened, or one of its entries can't be extracted.
type CorruptArchiveError struct {
	Path string
	Err  error
}

func (err CorruptArchiveError) Error() string {
	return fmt.Sprintf("extract archive %q: %s", err.Path, err.Err)
}

func (err CorruptArchiveError) Unwrap() error {
	return err.Err
}
