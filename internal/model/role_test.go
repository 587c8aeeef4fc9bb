package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleOf(t *testing.T) {
	assert.Equal(t, RoleHuman, RoleOf("human"))
	assert.Equal(t, RoleAssistant, RoleOf("assistant"))
	assert.Equal(t, RoleSystem, RoleOf("system"))

	// Anything outside the closed set degrades to system.
	assert.Equal(t, RoleSystem, RoleOf("ai"))
	assert.Equal(t, RoleSystem, RoleOf("HUMAN"))
	assert.Equal(t, RoleSystem, RoleOf(""))
}
