// Package fsutil holds the filename filtering and content-fingerprinting
// rules shared by the watcher and the rescan tool, so both agree on which
// files are worth syncing.
package fsutil

import "strings"

var ignorePrefixes = []string{"~", ".", "._"}

var ignoreSuffixes = []string{
	".tmp", ".bak", ".swp", ".ds_store", "thumbs.db", "desktop.ini",
}

// ShouldIgnore reports whether a file or directory basename should be
// dropped before it ever reaches the task queue.
func ShouldIgnore(basename string) bool {
	name := strings.ToLower(basename)
	for _, p := range ignorePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	for _, s := range ignoreSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

var placeholderPrefixes = []string{"新建", "new ", "未命名", "untitled"}

// IsPlaceholder reports whether basename looks like an editor/OS stub name
// ("New Text Document.txt", "未命名文件夹", ...). Callers should still sync
// non-empty files with a placeholder name — only the 0-byte stub is noise.
func IsPlaceholder(basename string) bool {
	name := strings.ToLower(basename)
	for _, p := range placeholderPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
