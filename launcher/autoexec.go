package launcher

import (
	"os"
	"path/filepath"
)

// MapCommand turns a "+map <level>" argument pair into the console
// command "map <level>". The last pair wins; no pair gives "".
func MapCommand(args []string) string {
	cmd := ""

	for i := 0; i < len(args)-1; i++ {
		if args[i] == "+map" {
			cmd = "map " + args[i+1]
		}
	}

	return cmd
}

// WriteAutoexec replaces the startup command file at path with commands,
// one per line.
func WriteAutoexec(path string, commands ...string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var content []byte
	for _, c := range commands {
		content = append(content, c...)
		content = append(content, '\n')
	}

	return os.WriteFile(path, content, 0o644)
}
