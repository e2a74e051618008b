package protocolids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllSysUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, p := range AllSys() {
		assert.False(t, seen[string(p)], "重复协议 ID: %s", p)
		seen[string(p)] = true
		assert.True(t, IsSys(p), "应为系统协议: %s", p)
	}
}

func TestIsSys(t *testing.T) {
	assert.True(t, IsSys(SysRelayHop))
	assert.False(t, IsSys("/ipfs/ping/1.0.0"))
}
