package capture

import "errors"

// ErrFileIO reports a failure to open, write, read or close an audio file.
var ErrFileIO = errors.New("capture: file I/O")

// ErrUnsupportedFormat reports a file whose encoding no decoder handles.
var ErrUnsupportedFormat = errors.New("capture: unsupported file format")
