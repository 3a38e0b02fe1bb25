package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Settings are the values remembered between runs. The password is never
// written to disk.
type Settings struct {
	BaseURL     string   `json:"base_url"`
	Identity    string   `json:"identity"`
	Collection  string   `json:"collection,omitempty"`
	TargetsFile string   `json:"targets_file,omitempty"`
	Subscribe   []string `json:"subscribe,omitempty"`
	Debug       bool     `json:"debug"`
	Monitor     bool     `json:"monitor"`
}

func SettingsPath() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "pbembed", "settings.json"), nil
}

func LoadSettings() (Settings, error) {
	path, err := SettingsPath()
	if err != nil {
		return Settings{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func SaveSettings(settings Settings) error {
	path, err := SettingsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

// MergeOptionsWithSettings fills options left empty on the command line from
// saved settings.
func MergeOptionsWithSettings(cli Options, saved Settings) Options {
	if strings.TrimSpace(cli.BaseURL) == "" {
		cli.BaseURL = saved.BaseURL
	}
	if strings.TrimSpace(cli.Identity) == "" {
		cli.Identity = saved.Identity
	}
	if strings.TrimSpace(cli.Collection) == "" {
		cli.Collection = saved.Collection
	}
	if strings.TrimSpace(cli.TargetsFile) == "" {
		cli.TargetsFile = saved.TargetsFile
	}
	if len(cli.Subscribe) == 0 {
		cli.Subscribe = append([]string(nil), saved.Subscribe...)
	}
	if !cli.Debug {
		cli.Debug = saved.Debug
	}
	if !cli.Monitor {
		cli.Monitor = saved.Monitor
	}
	return cli
}

func SettingsFromOptions(opts Options) Settings {
	return Settings{
		BaseURL:     strings.TrimSpace(opts.BaseURL),
		Identity:    strings.TrimSpace(opts.Identity),
		Collection:  strings.TrimSpace(opts.Collection),
		TargetsFile: strings.TrimSpace(opts.TargetsFile),
		Subscribe:   append([]string(nil), opts.Subscribe...),
		Debug:       opts.Debug,
		Monitor:     opts.Monitor,
	}
}
