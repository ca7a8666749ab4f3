package skill_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentgw/internal/skill"
)

func writeSkill(t *testing.T, dir, filename, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o644))
}

func TestLoader_LoadsValidSkillsAndExcludesInvalid(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "good.yaml", `
name: helper
description: a helpful skill
system_prompt: you are helpful
tools: [web_request]
temperature: 0.7
max_iterations: 5
`)
	writeSkill(t, dir, "bad-temp.yaml", `
name: too-hot
system_prompt: x
temperature: 3.5
max_iterations: 1
`)
	writeSkill(t, dir, "bad-tool.yaml", `
name: unknown-tool
system_prompt: x
tools: [does_not_exist]
temperature: 0.5
max_iterations: 1
`)

	l := skill.NewLoader(dir, func() []string { return []string{"web_request"} }, nil)
	require.NoError(t, l.Load())

	all := l.All()
	assert.Len(t, all, 1)
	s, ok := l.Get("helper")
	require.True(t, ok)
	assert.Equal(t, "helper", s.Name)

	_, ok = l.Get("too-hot")
	assert.False(t, ok)
	_, ok = l.Get("unknown-tool")
	assert.False(t, ok)
}

func TestLoader_RejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "a.yaml", "name: dup\nsystem_prompt: x\ntemperature: 0.5\nmax_iterations: 1\n")
	writeSkill(t, dir, "b.yaml", "name: dup\nsystem_prompt: y\ntemperature: 0.5\nmax_iterations: 1\n")

	l := skill.NewLoader(dir, nil, nil)
	require.NoError(t, l.Load())
	assert.Len(t, l.All(), 1)
}

func TestLoader_RejectsBadMaxIterationsAndTopK(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "a.yaml", "name: zero-iter\nsystem_prompt: x\ntemperature: 0.5\nmax_iterations: 0\n")
	writeSkill(t, dir, "b.yaml", `
name: bad-topk
system_prompt: x
temperature: 0.5
max_iterations: 1
rag_context:
  enabled: true
  top_k: 0
`)

	l := skill.NewLoader(dir, nil, nil)
	require.NoError(t, l.Load())
	assert.Empty(t, l.All())
}

func TestLoader_UnknownSubAgentIsWarnedNotRejected(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "a.yaml", `
name: coordinator
system_prompt: x
temperature: 0.5
max_iterations: 1
sub_agents: [ghost]
`)

	l := skill.NewLoader(dir, nil, nil)
	require.NoError(t, l.Load())
	_, ok := l.Get("coordinator")
	assert.True(t, ok)
}

func TestLoader_ReloadSwapsAtomically(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "a.yaml", "name: first\nsystem_prompt: x\ntemperature: 0.5\nmax_iterations: 1\n")

	l := skill.NewLoader(dir, nil, nil)
	require.NoError(t, l.Load())
	assert.Len(t, l.All(), 1)

	writeSkill(t, dir, "b.yaml", "name: second\nsystem_prompt: y\ntemperature: 0.5\nmax_iterations: 1\n")
	require.NoError(t, l.Load())
	assert.Len(t, l.All(), 2)
}
