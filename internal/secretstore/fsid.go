// SPDX-License-Identifier: GPL-3.0-or-later

//go:build unix

package secretstore

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/bassosimone/oncp"
)

// PassphraseFromFsid derives a deterministic passphrase for the client
// certificate key at path from the filesystem ID of the volume it lives
// on, for platforms that have no better source of per-install entropy
// for an unattended softtoken unlock.
func PassphraseFromFsid(path string) (string, error) {
	var buf unix.Statfs_t
	if err := unix.Statfs(path, &buf); err != nil {
		return "", oncp.NewError(oncp.KindIo, "secretstore.PassphraseFromFsid", err)
	}
	fsid := (uint64(uint32(buf.Fsid.Val[0])) << 32) | uint64(uint32(buf.Fsid.Val[1]))
	return fmt.Sprintf("%x", fsid), nil
}
