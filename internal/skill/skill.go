// Package skill loads and validates declarative skill definitions,
// grounded on the shape of the teacher's pkg/config.AgentConfig (name,
// description, visibility-like routing hints, tools, sub-agents) but
// expressed as its own standalone YAML document per skill file rather
// than a section of one monolithic agent config, per spec.md §4.2.
package skill

// Example is one few-shot (user, assistant) pair.
type Example struct {
	User      string `yaml:"user"`
	Assistant string `yaml:"assistant"`
}

// RAGContext configures automatic retrieval-context injection before
// every LLM call a skill makes.
type RAGContext struct {
	Enabled bool     `yaml:"enabled"`
	Skills  []string `yaml:"skills,omitempty"`
	Tags    []string `yaml:"tags,omitempty"`
	TopK    int      `yaml:"top_k"`
}

// Skill is an immutable, declarative bundle of system prompt, tool
// allow-list, model selection, and retrieval policy, per spec.md §3.
type Skill struct {
	Name          string      `yaml:"name"`
	Description   string      `yaml:"description"`
	SystemPrompt  string      `yaml:"system_prompt"`
	Tools         []string    `yaml:"tools,omitempty"`
	Model         string      `yaml:"model,omitempty"`
	Temperature   float64     `yaml:"temperature"`
	MaxIterations int         `yaml:"max_iterations"`
	Tags          []string    `yaml:"tags,omitempty"`
	Examples      []Example   `yaml:"examples,omitempty"`
	SubAgents     []string    `yaml:"sub_agents,omitempty"`
	RAGContext    *RAGContext `yaml:"rag_context,omitempty"`

	// SourceFile records the definition file this skill was loaded
	// from, purely for diagnostics (validation error messages, reload
	// logging); not part of the declarative contract itself.
	SourceFile string `yaml:"-"`
}

// AllowsTool reports whether name is in this skill's tool allow-list.
func (s *Skill) AllowsTool(name string) bool {
	for _, t := range s.Tools {
		if t == name {
			return true
		}
	}
	return false
}
