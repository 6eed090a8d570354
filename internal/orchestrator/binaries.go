package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrSnakeDoc/devhost/internal/binaries"
	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/store"
)

// InstallBinary downloads a version and records it. The download runs
// without holding the store lock.
func (o *Orchestrator) InstallBinary(ctx context.Context, service, version string, progress binaries.ProgressFunc) (*domain.BinaryInfo, error) {
	info, err := o.bins.Download(ctx, service, version, progress)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.store.RecordBinary(service, *info); err != nil {
		return nil, fmt.Errorf("installed %s %s but failed to record it: %w", service, info.Version, err)
	}
	// A migrated flat binary becomes a real version slot.
	if o.bins.IsInstalled(service, binaries.LegacyVersion) {
		if err := o.recordOnDisk(service, binaries.LegacyVersion); err != nil {
			return nil, err
		}
	}
	return info, nil
}

// DeleteBinary removes an installed version unless an instance uses it.
func (o *Orchestrator) DeleteBinary(ctx context.Context, service, version string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	insts, err := o.store.ListInstances()
	if err != nil {
		return err
	}
	for _, inst := range insts {
		if string(inst.ServiceType) == service && inst.Version == version {
			return fmt.Errorf("%w: %s %s is used by instance %s", store.ErrInUse, service, version, inst.Name)
		}
	}

	if err := o.bins.DeleteVersion(service, version); err != nil && !errors.Is(err, binaries.ErrNotInstalled) {
		return err
	}
	if err := o.store.RemoveBinary(service, version); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

func (o *Orchestrator) InstalledVersions(service string) ([]string, error) {
	return o.bins.InstalledVersions(service)
}

func (o *Orchestrator) AvailableVersions(ctx context.Context, service string) ([]binaries.VersionInfo, error) {
	return o.bins.AvailableVersions(ctx, service)
}
