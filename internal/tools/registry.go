package tools

import (
	"sort"
	"sync"
)

// CategoryBinding maps one category tag to its tool names, in declaration
// order. Order matters: the selector walks categories and their tools in
// order when distributing the budget.
type CategoryBinding struct {
	Tag       string
	ToolNames []string
}

// Registry is the category-aware tool map. Safe for concurrent use; the
// executor may register tools mid-loop via request_more_tools expansion.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]Tool
	categories []CategoryBinding
	// descriptions feed the capabilities section of the system prompt.
	descriptions map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:        make(map[string]Tool),
		descriptions: make(map[string]string),
	}
}

// Register adds or replaces a tool.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get looks up one tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns a snapshot of the name → tool map.
func (r *Registry) All() map[string]Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[string]Tool, len(r.tools))
	for k, v := range r.tools {
		snapshot[k] = v
	}
	return snapshot
}

// BindCategory declares (or extends) a category in declaration order.
// Dynamic categories such as fetch register here at runtime.
func (r *Registry) BindCategory(tag, description string, toolNames ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if description != "" {
		r.descriptions[tag] = description
	}
	for i := range r.categories {
		if r.categories[i].Tag == tag {
			r.categories[i].ToolNames = append(r.categories[i].ToolNames, toolNames...)
			return
		}
	}
	r.categories = append(r.categories, CategoryBinding{Tag: tag, ToolNames: toolNames})
}

// Categories returns the bindings in declaration order.
func (r *Registry) Categories() []CategoryBinding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CategoryBinding, len(r.categories))
	copy(out, r.categories)
	return out
}

// CategoryTags returns the sorted tag list, for prompts that enumerate
// what can be requested.
func (r *Registry) CategoryTags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.categories))
	for _, c := range r.categories {
		tags = append(tags, c.Tag)
	}
	sort.Strings(tags)
	return tags
}

// HasCategory reports whether tag is bound.
func (r *Registry) HasCategory(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.categories {
		if c.Tag == tag {
			return true
		}
	}
	return false
}

// Descriptions returns the capability description map.
func (r *Registry) Descriptions() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.descriptions))
	for k, v := range r.descriptions {
		out[k] = v
	}
	return out
}
