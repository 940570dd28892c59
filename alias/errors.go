package alias

import "errors"

var (
	// ErrInvalid means the alias does not match [A-Za-z0-9_-]{3,64}.
	ErrInvalid = errors.New("alias: malformed alias")
	// ErrTaken means the alias already names a different target in the group.
	ErrTaken = errors.New("alias: alias already registered in group")
)
