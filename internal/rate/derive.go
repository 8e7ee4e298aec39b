package rate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
)

// DeriveKey 从分类服务标识与其原样 Options JSON 构造限流分组键：
// classifier+sha256(base_url|model)。指向同一服务端点的多个配置共享同一额度。
// 本地实现（mock/flaky）不访问网络，使用固定键。
func DeriveKey(classifier string, raw json.RawMessage) (LimitKey, error) {
	var obj map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", fmt.Errorf("rate: options for %s: %w", classifier, err)
		}
	}
	pick := func(key string) string {
		if v, ok := obj[key]; ok {
			if s, ok := v.(string); ok {
				return strings.TrimSpace(s)
			}
		}
		return ""
	}

	switch classifier {
	case "mock", "flaky":
		return LimitKey(classifier + ":local"), nil
	case "":
		return "", fmt.Errorf("rate: classifier name empty")
	}
	endpoint := strings.TrimRight(pick("base_url"), "/") + "|" + pick("model")
	sum := sha256.Sum256([]byte(endpoint))
	return LimitKey(fmt.Sprintf("%s:%x", classifier, sum[:8])), nil
}
