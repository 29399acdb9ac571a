//go:build unix

// Package privdrop confines the process after the listening socket is bound:
// filesystem root restriction first, then the switch to an unprivileged user.
package privdrop

import (
	"os/user"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Drop chroots into root and assumes the identity of username. It must run
// after the socket is bound and before any file is served; every later file
// open resolves inside the new root.
func Drop(username, root string) error {
	u, err := user.Lookup(username)
	if err != nil {
		return errors.Wrapf(err, "lookup user %q", username)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return errors.Wrapf(err, "parse uid %q", u.Uid)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return errors.Wrapf(err, "parse gid %q", u.Gid)
	}

	if err := unix.Chroot(root); err != nil {
		return errors.Wrapf(err, "chroot %s", root)
	}
	if err := unix.Chdir("/"); err != nil {
		return errors.Wrap(err, "chdir to new root")
	}

	// Group first: setgid is no longer permitted once the uid changes.
	if err := unix.Setgroups([]int{gid}); err != nil {
		return errors.Wrap(err, "setgroups")
	}
	if err := unix.Setgid(gid); err != nil {
		return errors.Wrap(err, "setgid")
	}
	if err := unix.Setuid(uid); err != nil {
		return errors.Wrap(err, "setuid")
	}
	return nil
}
