package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const gsiConfigName = "gamestate_integration_strafetune.cfg"

// ErrGSIDirNotFound is returned when no CS2 cfg directory exists.
var ErrGSIDirNotFound = errors.New("CS2 cfg directory not found")

// gsiCfgSuffix is the cfg directory below a Steam library root.
var gsiCfgSuffix = filepath.Join("steamapps", "common", "Counter-Strike Global Offensive", "game", "csgo", "cfg")

// gsiConfigContent returns the game-state integration file pointing at the
// telemetry port.
func gsiConfigContent(port int) string {
	return fmt.Sprintf(`"strafetune"
{
    "uri" "http://127.0.0.1:%d"
    "timeout" "2.0"
    "buffer" "0.0"
    "throttle" "0.0"
    "heartbeat" "10.0"
    "data"
    {
        "provider" "1"
        "player_id" "1"
        "player_state" "1"
        "player_weapons" "1"
        "round" "1"
    }
}
`, port)
}

// gsiSteamRoots lists the Steam roots to try, most specific first.
func gsiSteamRoots(steamPath, home string) []string {
	var roots []string
	if steamPath != "" {
		roots = append(roots, steamPath)
	}
	if home != "" {
		roots = append(roots,
			filepath.Join(home, ".steam", "steam"),
			filepath.Join(home, ".local", "share", "Steam"),
		)
	}
	return append(roots,
		`C:\Program Files (x86)\Steam`,
		`D:\Steam`,
		`D:\SteamLibrary`,
	)
}

// writeGSIConfig creates the integration file in the first existing cfg
// directory below roots. An existing file is left alone; created reports
// whether a file was written.
func writeGSIConfig(roots []string, port int) (path string, created bool, err error) {
	for _, root := range roots {
		dir := filepath.Join(root, gsiCfgSuffix)
		st, err := os.Stat(dir)
		if err != nil || !st.IsDir() {
			continue
		}

		path = filepath.Join(dir, gsiConfigName)
		if _, err := os.Stat(path); err == nil {
			return path, false, nil
		}
		if err := os.WriteFile(path, []byte(gsiConfigContent(port)), 0o644); err != nil {
			return path, false, fmt.Errorf("write %s: %w", path, err)
		}
		return path, true, nil
	}
	return "", false, ErrGSIDirNotFound
}
