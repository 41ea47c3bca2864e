package config

import (
	"bufio"
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// DetectProjectName infers the project name used as the notification title.
// It checks go.mod, package.json and pyproject.toml in that order and falls
// back to the directory base name. Manifest errors are ignored.
func DetectProjectName(dir string) string {
	for _, detect := range []func(string) string{detectFromGoMod, detectFromPackageJSON, detectFromPyproject} {
		if name := detect(dir); name != "" {
			return name
		}
	}
	return filepath.Base(dir)
}

// detectFromGoMod returns the last element of the module path, skipping a
// major-version suffix ("example.com/tool/v2" → "tool").
func detectFromGoMod(dir string) string {
	f, err := os.Open(filepath.Join(dir, "go.mod"))
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "module ") {
			continue
		}
		mod := strings.Trim(strings.TrimSpace(strings.TrimPrefix(line, "module ")), `"`)
		base := path.Base(mod)
		if len(base) > 1 && base[0] == 'v' && strings.Trim(base[1:], "0123456789") == "" {
			base = path.Base(path.Dir(mod))
		}
		if base == "." || base == "/" {
			return ""
		}
		return base
	}
	return ""
}

type packageJSON struct {
	Name string `json:"name"`
}

func detectFromPackageJSON(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return ""
	}
	var p packageJSON
	if err := json.Unmarshal(data, &p); err != nil {
		return ""
	}
	return p.Name
}

type pyprojectTOML struct {
	Project struct {
		Name string `toml:"name"`
	} `toml:"project"`
}

func detectFromPyproject(dir string) string {
	var p pyprojectTOML
	if _, err := toml.DecodeFile(filepath.Join(dir, "pyproject.toml"), &p); err != nil {
		return ""
	}
	return p.Project.Name
}
