// Package paths expands a leading ~ in configured filesystem paths
// (store_path, socket_dir, diagrams_dir, user_actions_dir) to the
// user's home directory, so fsmhost.yaml can be written portably
// across deployments instead of hardcoding an absolute path.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome replaces a leading ~ with the user's home directory. A
// path with no leading ~, or one where the home directory cannot be
// determined, is returned unchanged.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(home, path[2:])
	}
	return path
}
