package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// LoadWithIncludes reads base config and merges includes in order. ${VAR}
// references in the files are expanded from the environment.
func LoadWithIncludes(base string, includes []string) (*viper.Viper, error) {
	v := viper.New()
	if base != "" {
		if err := readExpanded(v, base); err != nil {
			return nil, err
		}
	}
	for _, inc := range includes {
		iv := viper.New()
		if err := readExpanded(iv, inc); err != nil {
			return nil, fmt.Errorf("include %s: %w", inc, err)
		}
		if err := v.MergeConfigMap(iv.AllSettings()); err != nil {
			return nil, fmt.Errorf("merge %s: %w", inc, err)
		}
	}
	return v, nil
}

func readExpanded(v *viper.Viper, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		ext = "yaml"
	}
	v.SetConfigType(ext)
	return v.ReadConfig(strings.NewReader(os.ExpandEnv(string(b))))
}

// mergeMaps recursively merges b into a.
func mergeMaps(a, b map[string]any) map[string]any {
	for k, vb := range b {
		if ma, ok := a[k].(map[string]any); ok {
			if mb, ok2 := vb.(map[string]any); ok2 {
				a[k] = mergeMaps(ma, mb)
				continue
			}
		}
		a[k] = vb
	}
	return a
}

// ApplySectionAndProfile extracts a section (e.g. server) and overlays
// profiles.<name> from inside it when a profile is given.
func ApplySectionAndProfile(v *viper.Viper, section, profile string) (*viper.Viper, error) {
	if section != "" {
		sub := v.Sub(section)
		if sub == nil {
			return nil, fmt.Errorf("section %s not found", section)
		}
		v = sub
	}
	if profile != "" {
		prof := v.Sub("profiles")
		if prof == nil {
			return nil, fmt.Errorf("profiles not found in section")
		}
		p := prof.Sub(profile)
		if p == nil {
			return nil, fmt.Errorf("profile %s not found", profile)
		}
		merged := mergeMaps(v.AllSettings(), p.AllSettings())
		nv := viper.New()
		if err := nv.MergeConfigMap(merged); err != nil {
			return nil, err
		}
		v = nv
	}
	return v, nil
}
