//go:build !unix

package privdrop

import "github.com/pkg/errors"

// Drop is unavailable off unix; the server refuses to start with a --user
// rather than serve with full privileges.
func Drop(username, root string) error {
	return errors.New("privilege drop is only supported on unix platforms")
}
