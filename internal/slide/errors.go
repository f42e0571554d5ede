package slide

import "errors"

var (
	// ErrNotFound means no slide with the requested identifier is registered.
	ErrNotFound = errors.New("slide not found")

	// ErrSourceNotFound means the slide's path does not resolve to a readable file.
	ErrSourceNotFound = errors.New("source file not found")

	// ErrDecode means the image library could not parse the source file.
	ErrDecode = errors.New("cannot decode image")

	// ErrEmptyContent means the source file is readable but holds no image data.
	ErrEmptyContent = errors.New("image has no content")

	// ErrInvalidLevel means a requested pyramid level is outside [0, level count).
	ErrInvalidLevel = errors.New("invalid pyramid level")

	// ErrOutOfRange means a tile's pixel origin falls outside its level.
	ErrOutOfRange = errors.New("tile coordinates out of range")

	// ErrAllHandlesBusy means every cached slide handle was pinned by an active
	// request and the caller gave up waiting for one to free up.
	ErrAllHandlesBusy = errors.New("all cached slide handles are in use")

	// ErrConfig means a structural setting (cache capacity, tile size) is invalid.
	ErrConfig = errors.New("invalid configuration")
)
