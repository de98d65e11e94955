package wallet

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeAddress(t *testing.T) {
	// EIP-55 参考向量。
	checksummed := []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	}

	for _, addr := range checksummed {
		t.Run(addr, func(t *testing.T) {
			got, err := NormalizeAddress(addr)
			if err != nil {
				t.Fatalf("NormalizeAddress(%q) = %v", addr, err)
			}
			if got != addr {
				t.Fatalf("got %q, want %q", got, addr)
			}

			// 全小写 / 全大写输入视为未带校验和。
			lower, err := NormalizeAddress(strings.ToLower(addr))
			if err != nil || lower != addr {
				t.Fatalf("lower: got %q, %v", lower, err)
			}
			upper, err := NormalizeAddress("0x" + strings.ToUpper(addr[2:]))
			if err != nil || upper != addr {
				t.Fatalf("upper: got %q, %v", upper, err)
			}
		})
	}
}

func TestNormalizeAddressRejectsBadInput(t *testing.T) {
	bad := []string{
		"",
		"0x",
		"5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeA",
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAeZ",
		// 混合大小写但校验和错误。
		"0x5Aaeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
	}
	for _, addr := range bad {
		if _, err := NormalizeAddress(addr); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("NormalizeAddress(%q) = %v, want ErrInvalidAddress", addr, err)
		}
	}
}
