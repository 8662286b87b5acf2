// Package sourceview renders source files for load_file requests as
// syntax-highlighted HTML.
package sourceview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/zeebo/blake3"

	"github.com/gsitechorg/open-belex-debug/policy"
)

// ErrForbidden is returned when the file policy refuses a path.
var ErrForbidden = errors.New("path not allowed by file policy")

const (
	styleName         = "monokai"
	lineAnchorPrefix  = "line"
	maxCachedDocument = 64
)

// Policy decides whether a path may be read.
type Policy interface {
	Allowed(ctx context.Context, input policy.Input) (bool, string, error)
}

// Service loads and renders source files.
type Service struct {
	root      string
	realRoot  string
	policy    Policy
	formatter *html.Formatter
	style     *chroma.Style
	logger    *slog.Logger

	mu    sync.Mutex
	cache map[[32]byte]string
}

// New creates a source view confined by p. Relative paths are resolved
// against root; an empty root means the filesystem root.
func New(root string, p Policy, logger *slog.Logger) (*Service, error) {
	if root == "" {
		root = string(filepath.Separator)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving source root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	realRoot, err := filepath.EvalSymlinks(abs)
	if err != nil {
		realRoot = abs
	}
	style := styles.Get(styleName)
	if style == nil {
		style = styles.Fallback
	}
	return &Service{
		root:     abs,
		realRoot: realRoot,
		policy:   p,
		formatter: html.New(
			html.WithLineNumbers(true),
			html.WithLinkableLineNumbers(true, lineAnchorPrefix),
			html.TabWidth(4),
		),
		style:  style,
		logger: logger,
		cache:  make(map[[32]byte]string),
	}, nil
}

// Root returns the absolute source root.
func (s *Service) Root() string {
	return s.root
}

// Resolve returns the absolute, cleaned form of path.
func (s *Service) Resolve(path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	return filepath.Clean(path)
}

// Load checks the policy, reads path and renders it. Missing files yield
// an error matching fs.ErrNotExist.
func (s *Service) Load(ctx context.Context, path string) (string, error) {
	resolved := s.Resolve(path)
	if err := s.check(ctx, resolved, s.root); err != nil {
		return "", err
	}

	// The policy sees the file that is actually read, so a symlink under
	// the root cannot point outside it.
	target, err := filepath.EvalSymlinks(resolved)
	if err != nil {
		return "", fmt.Errorf("reading source: %w", err)
	}
	if err := s.check(ctx, target, s.realRoot); err != nil {
		return "", err
	}

	content, err := os.ReadFile(target)
	if err != nil {
		return "", fmt.Errorf("reading source: %w", err)
	}

	key := cacheKey(resolved, content)
	s.mu.Lock()
	cached, ok := s.cache[key]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	rendered, err := s.render(resolved, content)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if len(s.cache) >= maxCachedDocument {
		clear(s.cache)
	}
	s.cache[key] = rendered
	s.mu.Unlock()
	return rendered, nil
}

func (s *Service) check(ctx context.Context, path, root string) error {
	allowed, reason, err := s.policy.Allowed(ctx, policy.Input{Path: path, Root: root})
	if err != nil {
		return err
	}
	if !allowed {
		s.logger.Info("load_file refused", "path", path, "reason", reason)
		return fmt.Errorf("%s: %w", path, ErrForbidden)
	}
	return nil
}

func (s *Service) render(path string, content []byte) (string, error) {
	lexer := lexers.Match(filepath.Base(path))
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, string(content))
	if err != nil {
		return "", fmt.Errorf("tokenising %s: %w", path, err)
	}
	var buf bytes.Buffer
	if err := s.formatter.Format(&buf, s.style, iterator); err != nil {
		return "", fmt.Errorf("rendering %s: %w", path, err)
	}
	return buf.String(), nil
}

// cacheKey covers the name as well as the content: the lexer is chosen
// by file name.
func cacheKey(path string, content []byte) [32]byte {
	hasher := blake3.New()
	hasher.Write([]byte(path))
	hasher.Write([]byte{0})
	hasher.Write(content)
	var key [32]byte
	copy(key[:], hasher.Sum(nil))
	return key
}

// CacheLen returns the number of cached renderings.
func (s *Service) CacheLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}
