package wallet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"walletpass-service/internal/model"

	"go.uber.org/zap"
)

// Registry maps platforms to backends. A platform without a backend,
// including PlatformUnknown, resolves to the default backend.
type Registry struct {
	backends        map[model.Platform]Backend
	defaultPlatform model.Platform
	timeout         time.Duration
	logger          *zap.Logger
}

func NewRegistry(defaultPlatform model.Platform, timeout time.Duration, logger *zap.Logger, backends ...Backend) (*Registry, error) {
	r := &Registry{
		backends:        make(map[model.Platform]Backend, len(backends)),
		defaultPlatform: defaultPlatform,
		timeout:         timeout,
		logger:          logger,
	}
	for _, b := range backends {
		if _, dup := r.backends[b.Platform()]; dup {
			return nil, fmt.Errorf("duplicate backend for platform %s", b.Platform())
		}
		r.backends[b.Platform()] = b
	}
	if _, ok := r.backends[defaultPlatform]; !ok {
		return nil, fmt.Errorf("no backend registered for default platform %s", defaultPlatform)
	}
	return r, nil
}

// Resolve returns the backend for p, falling back to the default.
func (r *Registry) Resolve(p model.Platform) Backend {
	if b, ok := r.backends[p]; ok {
		return b
	}
	r.logger.Warn("No backend for platform, using default",
		zap.String("platform", string(p)),
		zap.String("default", string(r.defaultPlatform)))
	return r.backends[r.defaultPlatform]
}

// GeneratePass renders the pass on the platform's backend within the
// configured timeout. Backend errors are wrapped in ErrBackendFailure.
func (r *Registry) GeneratePass(ctx context.Context, p model.Platform, data PassData) (*PassFile, error) {
	backend := r.Resolve(p)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	type outcome struct {
		file *PassFile
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		file, err := backend.GeneratePass(ctx, data)
		done <- outcome{file, err}
	}()

	select {
	case <-ctx.Done():
		r.logger.Error("Wallet backend timed out", zap.String("backend", backend.Name()), zap.Error(ctx.Err()))
		return nil, fmt.Errorf("%w: %s: %v", model.ErrBackendFailure, backend.Name(), ctx.Err())
	case res := <-done:
		if res.err != nil {
			r.logger.Error("Wallet backend failed", zap.String("backend", backend.Name()), zap.Error(res.err))
			if errors.Is(res.err, model.ErrBackendFailure) {
				return nil, res.err
			}
			return nil, fmt.Errorf("%w: %s: %v", model.ErrBackendFailure, backend.Name(), res.err)
		}
		if res.file == nil || (res.file.RedirectURL == "" && len(res.file.Content) == 0) {
			return nil, fmt.Errorf("%w: %s returned an empty artifact", model.ErrBackendFailure, backend.Name())
		}
		return res.file, nil
	}
}

func (r *Registry) SendPushNotification(ctx context.Context, p model.Platform, deviceID, passID, message string) PushResult {
	backend := r.Resolve(p)
	result := backend.SendPushNotification(ctx, deviceID, passID, message)
	result.Platform = backend.Platform()
	result.DeviceID = deviceID
	return result
}

func (r *Registry) RegisterDevice(ctx context.Context, p model.Platform, passID, deviceID, pushToken string) (bool, error) {
	return r.Resolve(p).RegisterDevice(ctx, passID, deviceID, pushToken)
}

// Requirements lists every backend's requirements ordered by platform.
func (r *Registry) Requirements() []Requirements {
	out := make([]Requirements, 0, len(r.backends))
	for _, b := range r.backends {
		out = append(out, b.DescribeRequirements())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}

func (r *Registry) Supports(p model.Platform) bool {
	_, ok := r.backends[p]
	return ok
}
