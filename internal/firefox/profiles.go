package firefox

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/lotas/kurzfassung/internal/types"
)

// Root returns the platform's Firefox data directory, the one holding
// profiles.ini.
func Root() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	switch runtime.GOOS {
	case "linux":
		return filepath.Join(home, ".mozilla", "firefox"), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Firefox"), nil
	default:
		return "", fmt.Errorf("no Firefox directory known for %s", runtime.GOOS)
	}
}

type iniProfile struct {
	name          string
	path          string
	relative      bool
	legacyDefault bool
}

// ReadProfiles parses profiles.ini from r. Relative paths are joined onto
// root. When an [Install*] section names a default, it overrides the legacy
// Default=1 marker, matching what Firefox itself opens.
func ReadProfiles(r io.Reader, root string) ([]types.Profile, error) {
	var (
		entries     []*iniProfile
		current     *iniProfile
		inInstall   bool
		installPath string
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == ';' || line[0] == '#' {
			continue
		}
		if line[0] == '[' && line[len(line)-1] == ']' {
			section := line[1 : len(line)-1]
			current, inInstall = nil, false
			switch {
			case strings.HasPrefix(section, "Profile"):
				current = &iniProfile{}
				entries = append(entries, current)
			case strings.HasPrefix(section, "Install"):
				inInstall = true
			}
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch {
		case inInstall && key == "Default" && installPath == "":
			installPath = value
		case current == nil:
		case key == "Name":
			current.name = value
		case key == "Path":
			current.path = value
		case key == "IsRelative":
			current.relative = value == "1"
		case key == "Default":
			current.legacyDefault = value == "1"
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read profiles.ini: %w", err)
	}

	installMatched := false
	for _, e := range entries {
		if installPath != "" && e.path == installPath {
			installMatched = true
		}
	}

	profiles := make([]types.Profile, 0, len(entries))
	for _, e := range entries {
		if e.name == "" || e.path == "" {
			continue
		}
		p := types.Profile{Name: e.name, Path: e.path, IsDefault: e.legacyDefault}
		if installMatched {
			p.IsDefault = e.path == installPath
		}
		if e.relative {
			p.Path = filepath.Join(root, filepath.FromSlash(e.path))
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// LoadProfiles reads root/profiles.ini and keeps only the profiles that have
// a session file to read.
func LoadProfiles(root string) ([]types.Profile, error) {
	f, err := os.Open(filepath.Join(root, "profiles.ini"))
	if err != nil {
		return nil, fmt.Errorf("open profiles.ini: %w", err)
	}
	defer f.Close()

	all, err := ReadProfiles(f, root)
	if err != nil {
		return nil, err
	}
	var usable []types.Profile
	for _, p := range all {
		if hasSession(p.Path) {
			usable = append(usable, p)
		}
	}
	return usable, nil
}

func hasSession(profileDir string) bool {
	for _, name := range sessionFiles {
		if _, err := os.Stat(filepath.Join(profileDir, "sessionstore-backups", name)); err == nil {
			return true
		}
	}
	return false
}

// Resolve picks the profile called name. An empty name selects the default
// profile, or the first one when none is marked.
func Resolve(profiles []types.Profile, name string) (types.Profile, error) {
	if len(profiles) == 0 {
		return types.Profile{}, fmt.Errorf("no Firefox profiles with a session file")
	}
	if name == "" {
		for _, p := range profiles {
			if p.IsDefault {
				return p, nil
			}
		}
		return profiles[0], nil
	}
	for _, p := range profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return types.Profile{}, fmt.Errorf("profile %q not found", name)
}

// OpenSession loads the session of the profile called name under root.
func OpenSession(root, name string) (*types.SessionData, error) {
	profiles, err := LoadProfiles(root)
	if err != nil {
		return nil, err
	}
	profile, err := Resolve(profiles, name)
	if err != nil {
		return nil, err
	}
	session, err := ReadSessionFile(profile.Path)
	if err != nil {
		return nil, fmt.Errorf("read session of %q: %w", profile.Name, err)
	}
	session.Profile = profile
	return session, nil
}
