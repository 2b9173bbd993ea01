package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// AgentContext contains per-conversation configuration for tool creation.
//
//nolint:govet // fieldalignment: Logical grouping preferred over memory optimization
type AgentContext struct {
	WorkDir     string
	ReadOnly    bool
	ToolTimeout time.Duration
}

// ToolFactory creates a tool instance configured for a specific agent context.
type ToolFactory func(ctx AgentContext) (Tool, error)

// ToolMeta contains metadata about a tool for documentation and discovery.
type ToolMeta struct {
	Name        string
	Description string
	InputSchema InputSchema
}

// toolDescriptor contains the factory and metadata for a tool.
//
//nolint:govet // fieldalignment: Logical grouping preferred over memory optimization
type toolDescriptor struct {
	meta    ToolMeta
	factory ToolFactory
}

// immutableRegistry is the global, read-only tool registry.
//
//nolint:govet // fieldalignment: Logical grouping preferred over memory optimization
type immutableRegistry struct {
	mu     sync.RWMutex
	sealed bool
	tools  map[string]toolDescriptor
}

// Global registry instance - initialized in init().
//
//nolint:gochecknoglobals // Factory pattern requires global registry
var globalRegistry = &immutableRegistry{
	tools: make(map[string]toolDescriptor),
}

// Register adds a tool factory to the global registry.
// Panics if called after the registry is sealed.
func Register(name string, factory ToolFactory, meta *ToolMeta) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if globalRegistry.sealed {
		panic(fmt.Sprintf("tool registry sealed - cannot register tool '%s'", name))
	}

	globalRegistry.tools[name] = toolDescriptor{
		meta:    *meta,
		factory: factory,
	}
}

// Seal prevents further tool registrations.
// Called automatically when first ToolProvider is created.
func Seal() {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.sealed = true
}

// ListTools returns metadata for all registered tools, sorted by name.
func ListTools() []ToolMeta {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	result := make([]ToolMeta, 0, len(globalRegistry.tools))
	//nolint:gocritic // rangeValCopy: Direct access is clearer than pointer dereferencing
	for _, desc := range globalRegistry.tools {
		result = append(result, desc.meta)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// ToolProvider creates and manages tool instances for a specific conversation context.
//
//nolint:govet // fieldalignment: Logical grouping preferred over memory optimization
type ToolProvider struct {
	ctx      AgentContext
	tools    map[string]Tool
	allowSet map[string]struct{}
	mu       sync.Mutex
}

// NewProvider creates a new ToolProvider for the given agent context and allowed tools.
// Automatically seals the global registry on first use.
func NewProvider(ctx AgentContext, allowedTools []string) *ToolProvider {
	Seal() // Ensure registry is immutable

	allowSet := make(map[string]struct{}, len(allowedTools))
	for _, name := range allowedTools {
		allowSet[name] = struct{}{}
	}

	return &ToolProvider{
		ctx:      ctx,
		tools:    make(map[string]Tool),
		allowSet: allowSet,
	}
}

// Get retrieves a tool instance, creating it lazily if needed.
func (p *ToolProvider) Get(name string) (Tool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Check if tool is allowed
	if _, ok := p.allowSet[name]; !ok {
		return nil, fmt.Errorf("tool '%s' not allowed in this context", name)
	}

	// Return cached instance if available
	if tool, ok := p.tools[name]; ok {
		return tool, nil
	}

	// Create new instance
	globalRegistry.mu.RLock()
	desc, exists := globalRegistry.tools[name]
	globalRegistry.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("tool '%s' not registered", name)
	}

	tool, err := desc.factory(p.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool '%s': %w", name, err)
	}

	// Cache the instance
	p.tools[name] = tool
	return tool, nil
}

// Must is like Get but panics on error. Use for tools that must exist.
func (p *ToolProvider) Must(name string) Tool {
	tool, err := p.Get(name)
	if err != nil {
		panic(err)
	}
	return tool
}

// List returns metadata for all allowed tools, sorted by name. The stable
// order keeps the advertised tool block identical across planner steps, which
// matters for prompt caching.
func (p *ToolProvider) List() []ToolMeta {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	result := make([]ToolMeta, 0, len(p.allowSet))
	for name := range p.allowSet {
		if desc, ok := globalRegistry.tools[name]; ok {
			result = append(result, desc.meta)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Definitions returns the tool definitions advertised to the model for all
// allowed tools, in List order.
func (p *ToolProvider) Definitions() []ToolDefinition {
	metas := p.List()
	defs := make([]ToolDefinition, len(metas))
	for i := range metas {
		defs[i] = ToolDefinition{
			Name:        metas[i].Name,
			Description: metas[i].Description,
			InputSchema: metas[i].InputSchema,
		}
	}
	return defs
}

// GenerateToolDocumentation generates tool documentation for this provider's allowed tools.
func (p *ToolProvider) GenerateToolDocumentation() string {
	return GenerateToolDocumentationForTools(p.List())
}

// GenerateToolDocumentationForTools creates markdown documentation for the provided tool metadata.
func GenerateToolDocumentationForTools(tools []ToolMeta) string {
	if len(tools) == 0 {
		return "No tools available"
	}

	var doc strings.Builder
	doc.WriteString("## Available Tools\n\n")

	//nolint:gocritic // rangeValCopy: Direct access is clearer than pointer dereferencing
	for _, meta := range tools {
		doc.WriteString(fmt.Sprintf("- **%s** - %s\n", meta.Name, meta.Description))
	}

	return doc.String()
}

// TOOL FACTORY FUNCTIONS

// createDoneTool creates a done tool instance.
func createDoneTool(_ AgentContext) (Tool, error) {
	return NewDoneTool(), nil
}

// createReadFileTool creates a read_file tool instance rooted at the context workdir.
func createReadFileTool(ctx AgentContext) (Tool, error) {
	return NewReadFileTool(ctx.WorkDir, 0), nil
}

// createShellTool creates a shell tool instance.
func createShellTool(ctx AgentContext) (Tool, error) {
	if ctx.ReadOnly {
		return nil, fmt.Errorf("shell tool not available in read-only context")
	}
	return NewShellTool(ctx.WorkDir, ctx.ToolTimeout), nil
}

// init registers the builtin tools in the global registry using the factory pattern.
//
//nolint:gochecknoinits // Factory pattern requires init() for tool registration
func init() {
	Register(ToolDone, createDoneTool, &ToolMeta{
		Name:        ToolDone,
		Description: "Signal completion of the current task with a short summary",
		InputSchema: NewDoneTool().Definition().InputSchema,
	})

	Register(ToolReadFile, createReadFileTool, &ToolMeta{
		Name:        ToolReadFile,
		Description: "Read contents of a file from the workspace. Output uses numbered lines.",
		InputSchema: NewReadFileTool("", 0).Definition().InputSchema,
	})

	Register(ToolShell, createShellTool, &ToolMeta{
		Name:        ToolShell,
		Description: "Execute a shell command in the workspace and return its output",
		InputSchema: NewShellTool("", 0).Definition().InputSchema,
	})
}
