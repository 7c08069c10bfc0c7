package player

import (
	"context"
	"fmt"
)

// Factory builds the adapter variant for a [Source] from the host bindings
// it has. A nil binding disables the variants that need it.
type Factory struct {
	Frame    Frame
	Scripts  ScriptHost
	Elements ElementOpener
	Options  []Option
}

// New constructs the adapter for src:
//
//   - YouTube and Vimeo sources use [EmbedAdapter].
//   - Direct media uses [NativeAdapter], or [InjectAdapter] when no
//     element opener is bound.
//   - Web pages use [InjectAdapter].
func (f *Factory) New(ctx context.Context, src Source) (Adapter, error) {
	switch src.Type {
	case SourceYouTube, SourceVimeo:
		if f.Frame == nil {
			return nil, fmt.Errorf("player: no frame bound for %s: %w", src.Type, ErrUnsupportedSource)
		}
		return adapter(NewEmbed(ctx, f.Frame, src, f.Options...))
	case SourceDirect:
		if f.Elements != nil {
			return adapter(NewNative(ctx, f.Elements, src, f.Options...))
		}
		if f.Scripts != nil {
			return adapter(NewInject(ctx, f.Scripts, src, f.Options...))
		}
		return nil, fmt.Errorf("player: no element opener bound for %s: %w", src.URL, ErrUnsupportedSource)
	case SourceWeb:
		if f.Scripts == nil {
			return nil, fmt.Errorf("player: no script host bound for %s: %w", src.URL, ErrUnsupportedSource)
		}
		return adapter(NewInject(ctx, f.Scripts, src, f.Options...))
	}
	return nil, fmt.Errorf("player: source type %q: %w", src.Type, ErrUnsupportedSource)
}

// Open detects the source of url and constructs its adapter.
func (f *Factory) Open(ctx context.Context, url string) (Adapter, error) {
	src, err := Detect(url)
	if err != nil {
		return nil, err
	}
	return f.New(ctx, src)
}

// adapter keeps a failed constructor from producing a non-nil interface
// holding a nil pointer.
func adapter[A Adapter](a A, err error) (Adapter, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}
