// Package tools provides the tool registry shared by swarm agents.
//
// Tools are described by JSON Schema carrying descriptors, registered
// together with the Executor that runs them, and invoked through
// [Registry.Execute], which validates arguments up front and results when
// an output schema is declared. Descriptors can also be declared in
// K8s-style YAML manifests and bound to executors at startup.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// NamespaceSep is the separator used in qualified tool names.
// Example: "a2a__weather_agent__get_forecast"
const NamespaceSep = "__"

// Manifest framing for YAML tool declarations.
const (
	APIVersion = "agentmesh/v1"
	KindTool   = "Tool"
)

// ParseName splits a qualified tool name on the first NamespaceSep.
//
//	"a2a__weather__forecast" → ("a2a", "weather__forecast")
//	"get_weather"            → ("", "get_weather")
func ParseName(name string) (namespace, local string) {
	ns, local, found := strings.Cut(name, NamespaceSep)
	if !found {
		return "", name
	}
	return ns, local
}

// QualifyName joins a namespace and local name with NamespaceSep. An empty
// namespace leaves the local name unqualified.
func QualifyName(namespace, local string) string {
	if namespace == "" {
		return local
	}
	return namespace + NamespaceSep + local
}

// Descriptor defines one callable tool.
type Descriptor struct {
	Name        string `json:"name" yaml:"name"`
	Namespace   string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Description string `json:"description" yaml:"description"`
	// InputSchema is the JSON Schema arguments are validated against.
	InputSchema json.RawMessage `json:"input_schema" yaml:"input_schema"`
	// OutputSchema, when present, is the JSON Schema results are validated
	// against.
	OutputSchema json.RawMessage `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
	// TimeoutMs bounds one execution. Zero applies no per-tool timeout.
	TimeoutMs int `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// QualifiedName returns the name the tool is registered under.
func (d Descriptor) QualifiedName() string {
	return QualifyName(d.Namespace, d.Name)
}

// clone returns a copy whose raw schemas share no backing arrays.
func (d Descriptor) clone() Descriptor {
	d.InputSchema = bytes.Clone(d.InputSchema)
	d.OutputSchema = bytes.Clone(d.OutputSchema)
	return d
}

// Manifest is the K8s-style YAML declaration of one tool. metadata.name
// and metadata.namespace take precedence over the spec fields when set.
type Manifest struct {
	APIVersion string            `json:"apiVersion" yaml:"apiVersion"`
	Kind       string            `json:"kind" yaml:"kind"`
	Metadata   metav1.ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Spec       Descriptor        `json:"spec" yaml:"spec"`
}

// Executor runs a tool. Implementations must honor ctx cancellation; the
// registry derives a deadline from the descriptor's TimeoutMs.
type Executor interface {
	// Name identifies the executor in logs and errors.
	Name() string
	Execute(ctx context.Context, d *Descriptor, args json.RawMessage) (json.RawMessage, error)
}

// ExecFunc is the function form of [Executor.Execute].
type ExecFunc func(ctx context.Context, d *Descriptor, args json.RawMessage) (json.RawMessage, error)

// FuncExecutor adapts a plain function into an Executor.
type FuncExecutor struct {
	name string
	fn   ExecFunc
}

// NewFuncExecutor wraps fn as a named Executor.
func NewFuncExecutor(name string, fn ExecFunc) *FuncExecutor {
	return &FuncExecutor{name: name, fn: fn}
}

// Name implements Executor.
func (e *FuncExecutor) Name() string { return e.name }

// Execute implements Executor.
func (e *FuncExecutor) Execute(ctx context.Context, d *Descriptor, args json.RawMessage) (json.RawMessage, error) {
	return e.fn(ctx, d, args)
}

// ValidationError reports a schema validation failure.
type ValidationError struct {
	Type   string `json:"type"` // "args_invalid" | "result_invalid"
	Tool   string `json:"tool"`
	Detail string `json:"detail"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("tools: %s validation failed (%s): %s", e.Tool, e.Type, e.Detail)
}
