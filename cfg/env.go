package cfg

import (
	"os"
	"strings"
)

// ApplyEnv 用环境变量覆盖配置，UIDGEN_CACHE_BOOSTPOWER=4 对应 cache.boostPower
// 变量名去掉前缀后按下划线切分成路径，路径各级与已有的 key 大小写不敏感匹配
func (n *Node) ApplyEnv(prefix string) *Node {
	return n.applyEnv(prefix, os.Environ())
}

func (n *Node) applyEnv(prefix string, environ []string) *Node {
	root, ok := n.Data().(map[string]any)
	if !ok {
		root = map[string]any{}
	}

	prefix = strings.ToUpper(prefix) + "_"
	for _, kv := range environ {
		key, value, found := strings.Cut(kv, "=")
		if !found || !strings.HasPrefix(strings.ToUpper(key), prefix) {
			continue
		}
		path := strings.Split(strings.ToLower(key[len(prefix):]), "_")
		setPath(root, path, value)
	}

	return NewNode(root)
}

func setPath(m map[string]any, path []string, value string) {
	for i, part := range path {
		if part == "" {
			return
		}
		key := part
		for k := range m {
			if strings.EqualFold(k, part) {
				key = k
				break
			}
		}
		if i == len(path)-1 {
			m[key] = value
			return
		}
		child, ok := m[key].(map[string]any)
		if !ok {
			child = map[string]any{}
			m[key] = child
		}
		m = child
	}
}
