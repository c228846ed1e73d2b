package registry

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"fourcat/internal/staging"
)

// OptionKind is the value type of a processor option.
type OptionKind string

const (
	KindString OptionKind = "string"
	KindInt    OptionKind = "int"
	KindFloat  OptionKind = "float"
	KindBool   OptionKind = "bool"
	KindChoice OptionKind = "choice"
	KindList   OptionKind = "list"
)

// OptionSpec declares one option of a processor.
type OptionSpec struct {
	Kind    OptionKind `validate:"required,oneof=string int float bool choice list"`
	Help    string     `validate:"required"`
	Default any
	// Min and Max clamp numeric options.
	Min     *float64
	Max     *float64
	Choices []string `validate:"required_if=Kind choice,dive,required"`
}

// Descriptor is the immutable registry entry of a processor type.
type Descriptor struct {
	TypeID      string `validate:"required"`
	Title       string `validate:"required"`
	Description string
	Category    string `validate:"omitempty,oneof=collector processor conversion visualisation"`
	// Extension is the file extension of the result artifact.
	Extension string `validate:"required,alphanum,lowercase"`
	Version   string `validate:"required"`
	// Accepts lists upstream produced types or raw input formats.
	Accepts  []string `validate:"required,min=1,dive,required"`
	Produces string   `validate:"required"`
	Options  map[string]OptionSpec
	// Concurrency bounds simultaneous jobs of this type; zero means one.
	Concurrency int `validate:"gte=0"`
	// Timeout bounds a single run; zero defers to the configured default.
	Timeout time.Duration
}

var typeIDPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{1,62}$`)

// AcceptsType reports whether produced is one of the descriptor's inputs.
func (d Descriptor) AcceptsType(produced string) bool {
	for _, accepted := range d.Accepts {
		if accepted == produced {
			return true
		}
	}
	return false
}

// Defaults returns the default value of every option that declares one.
func (d Descriptor) Defaults() map[string]any {
	out := make(map[string]any, len(d.Options))
	for name, spec := range d.Options {
		if spec.Default != nil {
			out[name] = spec.Default
		}
	}
	return out
}

// Request is the input of a single processor run.
type Request struct {
	DatasetKey string
	// Parameters have been validated and coerced by ValidateOptions.
	Parameters map[string]any
	// InputPath is the parent dataset's result, or the raw input of a
	// top-level dataset.
	InputPath string
	// OutputPath is where the processor should write its result.
	OutputPath string
	Staging    *staging.Area
	Logger     *slog.Logger
	Progress   func(percent float64, message string)
}

// ReportProgress forwards a progress update when a callback is attached.
func (r Request) ReportProgress(percent float64, message string) {
	if r.Progress != nil {
		r.Progress(percent, message)
	}
}

// Result is the outcome of a successful run.
type Result struct {
	// Location is the result artifact; empty means Request.OutputPath.
	Location string
	Rows     int64
}

// Processor performs the work of one job type. Run must return promptly once
// ctx is done, checking it at loop and I/O boundaries.
type Processor interface {
	Descriptor() Descriptor
	Run(ctx context.Context, req Request) (Result, error)
}

// FuncProcessor adapts a descriptor and a function to the Processor interface.
type FuncProcessor struct {
	Desc    Descriptor
	RunFunc func(ctx context.Context, req Request) (Result, error)
}

func (f FuncProcessor) Descriptor() Descriptor { return f.Desc }

func (f FuncProcessor) Run(ctx context.Context, req Request) (Result, error) {
	if f.RunFunc == nil {
		return Result{}, nil
	}
	return f.RunFunc(ctx, req)
}
