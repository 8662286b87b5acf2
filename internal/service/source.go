package service

import "context"

// LoadFile renders a source file for the load_file command.
func (s *Service) LoadFile(ctx context.Context, path string) (string, error) {
	if s.sources == nil {
		return "", ErrSourceViewDisabled
	}
	return s.sources.Load(ctx, path)
}
