//go:build !linux

package vault

func renameNoReplace(src, dst string) error {
	return renameChecked(src, dst)
}
