package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forgelabs-ai/agentmesh/logger"
)

// registration pairs a descriptor with its bound executor. exec stays nil
// for manifest-declared tools until Bind attaches one.
type registration struct {
	desc Descriptor
	exec Executor
}

// Registry holds tool descriptors and their executors, keyed by qualified
// name. It is safe for concurrent use; swarm agents share one registry.
type Registry struct {
	validator *SchemaValidator

	mu    sync.RWMutex
	tools map[string]*registration
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		validator: NewSchemaValidator(),
		tools:     make(map[string]*registration),
	}
}

// Register adds a tool under its qualified name and binds exec to it. The
// descriptor's schemas are compiled eagerly so a broken schema fails here
// rather than on first execution.
func (r *Registry) Register(d Descriptor, exec Executor) error {
	if exec == nil {
		return ErrNilExecutor
	}
	if err := r.validateDescriptor(&d); err != nil {
		return err
	}
	return r.insert(d, exec)
}

// Bind attaches an executor to an already declared tool.
func (r *Registry) Bind(name string, exec Executor) error {
	if exec == nil {
		return ErrNilExecutor
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	reg.exec = exec
	return nil
}

// Get returns a copy of the descriptor registered under the qualified name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return Descriptor{}, false
	}
	return reg.desc.clone(), true
}

// List returns all qualified tool names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}

// Execute validates args against the tool's input schema, runs the bound
// executor under the tool's timeout, and validates the result against the
// output schema when one is declared. Executor errors are returned wrapped
// with the tool name.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	reg, ok := r.tools[name]
	var (
		desc Descriptor
		exec Executor
	)
	if ok {
		desc = reg.desc.clone()
		exec = reg.exec
	}
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if exec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoExecutor, name)
	}

	if err := r.validator.ValidateArgs(&desc, args); err != nil {
		return nil, err
	}

	if desc.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(desc.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	result, err := exec.Execute(ctx, &desc, args)
	if err != nil {
		return nil, fmt.Errorf("tools: %s: %w", name, err)
	}
	logger.Debug("tool executed",
		"tool", name, "executor", exec.Name(), "duration_ms", time.Since(start).Milliseconds())

	if len(desc.OutputSchema) > 0 {
		if err := r.validator.ValidateResult(&desc, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// LoadManifest reads one YAML tool manifest and registers its descriptor.
// The tool has no executor until Bind attaches one.
func (r *Registry) LoadManifest(rd io.Reader) (*Descriptor, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("tools: read manifest: %w", err)
	}

	// Decode via generic YAML and re-marshal as JSON so the schema fields
	// land in json.RawMessage as JSON rather than base64 bytes.
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("tools: parse manifest: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("tools: convert manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(jsonData, &m); err != nil {
		return nil, fmt.Errorf("tools: decode manifest: %w", err)
	}

	if m.APIVersion != APIVersion {
		return nil, fmt.Errorf("tools: unsupported apiVersion %q (want %s)", m.APIVersion, APIVersion)
	}
	if m.Kind != KindTool {
		return nil, fmt.Errorf("tools: unsupported kind %q (want %s)", m.Kind, KindTool)
	}

	d := m.Spec
	if m.Metadata.Name != "" {
		d.Name = m.Metadata.Name
	}
	if m.Metadata.Namespace != "" {
		d.Namespace = m.Metadata.Namespace
	}
	if err := r.validateDescriptor(&d); err != nil {
		return nil, err
	}
	if err := r.insert(d, nil); err != nil {
		return nil, err
	}
	return &d, nil
}

// LoadDir walks fsys and loads every .yaml/.yml manifest it finds.
func (r *Registry) LoadDir(fsys fs.FS) error {
	return fs.WalkDir(fsys, ".", func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		switch strings.ToLower(path.Ext(p)) {
		case ".yaml", ".yml":
		default:
			return nil
		}

		f, err := fsys.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := r.LoadManifest(f); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		return nil
	})
}

// insert stores a registration, rejecting duplicate qualified names.
func (r *Registry) insert(d Descriptor, exec Executor) error {
	key := d.QualifiedName()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, key)
	}
	r.tools[key] = &registration{desc: d.clone(), exec: exec}
	return nil
}

// validateDescriptor checks required fields and compiles the schemas.
func (r *Registry) validateDescriptor(d *Descriptor) error {
	if d.Name == "" {
		return ErrToolNameRequired
	}
	if d.Description == "" {
		return ErrToolDescriptionRequired
	}
	if len(d.InputSchema) == 0 {
		return ErrInputSchemaRequired
	}

	if _, err := r.validator.compile(d.InputSchema); err != nil {
		return fmt.Errorf("tools: invalid input schema for %s: %w", d.QualifiedName(), err)
	}
	if len(d.OutputSchema) > 0 {
		if _, err := r.validator.compile(d.OutputSchema); err != nil {
			return fmt.Errorf("tools: invalid output schema for %s: %w", d.QualifiedName(), err)
		}
	}
	return nil
}
