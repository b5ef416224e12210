package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envPattern 匹配 ${VAR} 与 ${VAR:-default}
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Load 加载配置文件，根据扩展名选择YAML或TOML解析
// 文件不存在时返回默认配置；配置目录下的 .env 会先于解析加载
func Load(path string) (*HubConfig, error) {
	loadDotEnv(path)

	cfg := &HubConfig{}
	if path == "" {
		cfg.ApplyDefaults()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := Parse(data, formatOf(path), cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse 解析配置内容，format 为 yaml 或 toml
func Parse(data []byte, format string, cfg *HubConfig) error {
	expanded := ExpandEnv(string(data))
	switch format {
	case "toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return fmt.Errorf("解析TOML配置失败: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return fmt.Errorf("解析YAML配置失败: %w", err)
		}
	}
	return nil
}

// ExpandEnv 替换 ${VAR} 与 ${VAR:-default} 形式的环境变量引用
func ExpandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := envPattern.FindStringSubmatch(m)
		if v, ok := os.LookupEnv(sub[1]); ok && v != "" {
			return v
		}
		return sub[2]
	})
}

func formatOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return "toml"
	}
	return "yaml"
}

// loadDotEnv 加载工作目录与配置文件目录下的 .env，已存在的环境变量不会被覆盖
func loadDotEnv(path string) {
	_ = godotenv.Load()
	if path == "" {
		return
	}
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}
}
