package sandbox

import (
	"context"

	"go.uber.org/zap"
)

// startPreload launches the single background preload task. Safe to call
// any number of times; every caller observes the same in-flight attempt.
func (s *Sandbox) startPreload() {
	s.preloadOnce.Do(func() {
		go func() {
			defer close(s.preloadDone)
			s.preload()
		}()
	})
}

// PreloadAll blocks until the preload task has finished. Idempotent;
// concurrent calls collapse onto the one in-flight attempt.
func (s *Sandbox) PreloadAll() {
	s.startPreload()
	<-s.preloadDone
}

// awaitPreload waits for the preload task or the caller's context, whichever
// settles first.
func (s *Sandbox) awaitPreload(ctx context.Context) error {
	s.startPreload()
	select {
	case <-s.preloadDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// preload warms the compiled-module cache for every allowlisted package that
// only ships an asynchronous entry form. Such entries need conversion before
// the synchronous require inside a running script can evaluate them, so the
// work happens ahead of the first execution. Individual failures are
// swallowed here: sandbox construction must never fail because one
// configured package is unloadable, and the failure resurfaces scoped to the
// execution that actually uses the package.
func (s *Sandbox) preload() {
	for pkg := range s.allowed {
		if !isAsyncOnly(s.baseDir, pkg) {
			continue
		}
		path := resolveFile(resolveEntry(s.baseDir, pkg))
		if path == "" {
			s.logger.Warn("preload: entry not resolvable", zap.String("package", pkg))
			continue
		}
		if _, err := s.compileModule(path); err != nil {
			s.logger.Warn("preload: package failed to load",
				zap.String("package", pkg),
				zap.Error(err),
			)
			continue
		}
		s.logger.Debug("preloaded package",
			zap.String("package", pkg),
			zap.String("entry", path),
		)
	}
}
