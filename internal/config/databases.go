package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Database describes one record-store database a workflow reads from or
// writes to.
type Database struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	StatusField string            `yaml:"status_field"`
	Fields      map[string]string `yaml:"fields"`
}

type databasesFile struct {
	Databases map[string]Database `yaml:"databases"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadDatabases reads the YAML database mapping with ${ENV_VAR} substitution.
// Unresolved variables are an error so a half-configured mapping never
// reaches a workflow.
func LoadDatabases(path string) (map[string]Database, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read databases file: %w", err)
	}

	substituted := envVarPattern.ReplaceAllStringFunc(string(raw), func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})

	if missing := envVarPattern.FindAllStringSubmatch(substituted, -1); len(missing) > 0 {
		names := make([]string, 0, len(missing))
		seen := make(map[string]struct{}, len(missing))
		for _, m := range missing {
			if _, ok := seen[m[1]]; ok {
				continue
			}
			seen[m[1]] = struct{}{}
			names = append(names, m[1])
		}
		sort.Strings(names)
		return nil, fmt.Errorf("databases file %s: missing environment variables: %s", path, strings.Join(names, ", "))
	}

	var parsed databasesFile
	if err := yaml.Unmarshal([]byte(substituted), &parsed); err != nil {
		return nil, fmt.Errorf("parse databases file: %w", err)
	}
	if len(parsed.Databases) == 0 {
		return nil, fmt.Errorf("databases file %s: no databases defined", path)
	}
	for name, db := range parsed.Databases {
		if strings.TrimSpace(db.ID) == "" {
			return nil, fmt.Errorf("databases file %s: database %q has no id", path, name)
		}
	}
	return parsed.Databases, nil
}
