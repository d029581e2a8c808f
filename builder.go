package swiftstream

import (
	"context"
	"time"

	"github.com/oleg578/swiftstream/logger"
)

// Option configures a Builder.
type Option func(*Builder)

// WithConfig replaces the whole configuration. Zero-valued options that have
// defaults are filled in at build time.
func WithConfig(cfg Config) Option {
	return func(b *Builder) { b.cfg = cfg }
}

// WithShape selects the Record variant.
func WithShape(s Shape) Option {
	return func(b *Builder) { b.cfg.Shape = s }
}

// WithInterner uses in instead of DefaultInterner.
func WithInterner(in *Interner) Option {
	return func(b *Builder) {
		if in != nil {
			b.interner = in
		}
	}
}

// WithLogger sets the logger for the engine. The default discards output.
func WithLogger(l *logger.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.log = l
		}
	}
}

// WithSeekableSource requires a seekable Source; see Resolver.Seekable.
func WithSeekableSource() Option {
	return func(b *Builder) { b.seekable = true }
}

// Builder validates configuration and assembles an Engine.
type Builder struct {
	in       Input
	cfg      Config
	interner *Interner
	log      *logger.Logger
	seekable bool
}

// NewBuilder returns a Builder for in with DefaultConfig.
func NewBuilder(in Input, opts ...Option) *Builder {
	b := &Builder{
		in:       in,
		cfg:      DefaultConfig(),
		interner: DefaultInterner(),
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build validates the configuration, resolves the source, reads the header
// row and starts streaming. It fails with a CONFIGURATION_ERROR, a SOURCE_*
// error or a HEADER_ERROR. Canceling ctx stops a threaded engine's worker;
// the next call to Next then returns ctx's error.
func (b *Builder) Build(ctx context.Context) (eng *Engine, err error) {
	start := time.Now()
	name := "input"
	if b.in != nil {
		name = b.in.describe()
	}
	ctx, span := startBuildSpan(ctx, name)
	defer func() { endBuildSpan(ctx, span, start, err) }()

	cfg := b.cfg
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	src, err := Resolver{Seekable: b.seekable}.Resolve(b.in)
	if err != nil {
		return nil, err
	}

	eng, err = b.assemble(src, cfg)
	if err != nil {
		return nil, err
	}
	eng.start(ctx)

	if b.log.DebugEnabled() {
		eng.log.Debug("engine built", logger.Fields(
			logger.FieldSource, src.Kind.String(),
			logger.FieldMode, eng.mode.String(),
			logger.FieldHeaders, len(eng.headers),
			logger.FieldDuration, time.Since(start).Milliseconds(),
		))
	}
	return eng, nil
}

// assemble wraps src in an engine and reads its headers. src is closed when
// the headers cannot be read.
func (b *Builder) assemble(src *Source, cfg Config) (*Engine, error) {
	eng := newEngine(src, cfg, b.interner, b.log)
	if err := eng.readHeaders(); err != nil {
		_ = src.Close()
		return nil, err
	}
	return eng, nil
}

// Open is NewBuilder(in, opts...).Build(ctx).
func Open(ctx context.Context, in Input, opts ...Option) (*Engine, error) {
	return NewBuilder(in, opts...).Build(ctx)
}
