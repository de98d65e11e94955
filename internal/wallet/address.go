package wallet

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ErrInvalidAddress 表示地址格式或校验和不合法。
var ErrInvalidAddress = errors.New("invalid wallet address")

// NormalizeAddress 校验以太坊风格地址（0x + 40 位十六进制）并返回
// EIP-55 校验和形式。全小写/全大写输入视为未带校验和，直接规范化；
// 混合大小写输入必须与校验和完全一致。
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if len(address) != 42 || !strings.HasPrefix(address, "0x") {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	hexPart := address[2:]
	for _, r := range hexPart {
		if !isHexDigit(r) {
			return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
		}
	}

	checksummed := checksumAddress(hexPart)

	lower := strings.ToLower(hexPart)
	upper := strings.ToUpper(hexPart)
	if hexPart != lower && hexPart != upper && hexPart != checksummed {
		return "", fmt.Errorf("%w: checksum mismatch in %q", ErrInvalidAddress, address)
	}
	return "0x" + checksummed, nil
}

// checksumAddress 按 EIP-55 规则生成校验和形式：对小写地址做
// Keccak-256，哈希对应半字节 >= 8 的字母转为大写。
func checksumAddress(hexPart string) string {
	lower := strings.ToLower(hexPart)

	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte(lower))
	hash := hasher.Sum(nil)

	out := []byte(lower)
	for i, b := range out {
		if b < 'a' || b > 'f' {
			continue
		}
		nibble := hash[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if nibble >= 8 {
			out[i] = b - 'a' + 'A'
		}
	}
	return string(out)
}

func isHexDigit(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case r >= 'a' && r <= 'f':
		return true
	case r >= 'A' && r <= 'F':
		return true
	}
	return false
}
