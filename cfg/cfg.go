package cfg

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// 支持的配置格式
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
	FormatTOML = "toml"
	FormatINI  = "ini"
)

// FormatOf 根据文件扩展名推断配置格式
func FormatOf(filename string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	case ".ini":
		return FormatINI, nil
	}
	return "", errors.Errorf("unsupported config file extension %q", filepath.Ext(filename))
}

// ReadFile 读取配置文件并解码成 Node
func ReadFile(filename string) (*Node, error) {
	format, err := FormatOf(filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", filename)
	}
	return Decode(data, format)
}

// LoadFile 读取配置文件，转换到 object，设置默认值并校验
func LoadFile(filename string, object any) error {
	node, err := ReadFile(filename)
	if err != nil {
		return err
	}
	return node.ConvertTo(object)
}

// Load 按指定格式解码 data 并转换到 object
func Load(data []byte, format string, object any) error {
	node, err := Decode(data, format)
	if err != nil {
		return err
	}
	return node.ConvertTo(object)
}

// Decode 按指定格式解码配置数据
func Decode(data []byte, format string) (*Node, error) {
	var v any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, errors.Wrap(err, "yaml.Unmarshal failed")
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, errors.Wrap(err, "json.Unmarshal failed")
		}
	case FormatTOML:
		m := map[string]any{}
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, errors.Wrap(err, "toml.Unmarshal failed")
		}
		v = m
	case FormatINI:
		m, err := decodeINI(data)
		if err != nil {
			return nil, err
		}
		v = m
	default:
		return nil, errors.Errorf("unsupported config format %q", format)
	}
	return NewNode(normalize(v)), nil
}

// decodeINI 把 section 按点号展开成嵌套 map，值保持字符串，转换时再解析
func decodeINI(data []byte) (map[string]any, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:         true,
		SpaceBeforeInlineComment: true,
	}, data)
	if err != nil {
		return nil, errors.Wrap(err, "ini.Load failed")
	}

	result := map[string]any{}
	for _, section := range file.Sections() {
		m := result
		if name := section.Name(); name != ini.DefaultSection {
			for _, part := range strings.Split(name, ".") {
				child, ok := m[part].(map[string]any)
				if !ok {
					child = map[string]any{}
					m[part] = child
				}
				m = child
			}
		}
		for _, key := range section.Keys() {
			m[key.Name()] = key.Value()
		}
	}
	return result, nil
}

// normalize 统一各解码器的容器类型为 map[string]any 和 []any
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[toString(k)] = normalize(e)
		}
		return m
	case []any:
		for i := range t {
			t[i] = normalize(t[i])
		}
		return t
	case []map[string]any:
		s := make([]any, len(t))
		for i := range t {
			s[i] = normalize(t[i])
		}
		return s
	}
	return v
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}
