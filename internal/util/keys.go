package util

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

const (
	keyGroups    = 4
	keyGroupSize = 4
	obfuscateMax = 9
)

// GenerateLicenseKey 生成 XXXX-XXXX-XXXX-XXXX 形式的随机密钥
func GenerateLicenseKey() (string, error) {
	buf := make([]byte, keyGroups*keyGroupSize/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	encoded := strings.ToUpper(hex.EncodeToString(buf))

	groups := make([]string, 0, keyGroups)
	for i := 0; i < keyGroups; i++ {
		groups = append(groups, encoded[i*keyGroupSize:(i+1)*keyGroupSize])
	}
	return strings.Join(groups, "-"), nil
}

// ObfuscateKey 只保留密钥开头最多 9 个字符（不超过一半），其余用 * 替换
func ObfuscateKey(key string) string {
	visible := min(obfuscateMax, len(key)/2)
	return key[:visible] + strings.Repeat("*", len(key)-visible)
}
