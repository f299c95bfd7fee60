package detector

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nomor/memclear/internal/domain"
)

// AllInstalled returns every user-installed app sorted by display name, with
// the whitelist flag set.
func (d *Detector) AllInstalled(ctx context.Context) ([]domain.AppRecord, error) {
	installed, err := d.src.Catalog.InstalledApps(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list installed apps: %w", err)
	}

	apps := make([]domain.AppRecord, 0, len(installed))
	for _, app := range installed {
		if app.IsSystem {
			continue
		}
		a := app
		apps = append(apps, domain.AppRecord{
			PackageID:       app.PackageID,
			DisplayName:     displayName(&a),
			IsUserInstalled: true,
			IsWhitelisted:   d.whitelist.Contains(app.PackageID),
		})
	}
	return sortByName(apps), nil
}

// Whitelisted returns the whitelisted apps that are still installed.
// Packages that have been uninstalled are removed from the whitelist.
func (d *Detector) Whitelisted(ctx context.Context) ([]domain.AppRecord, error) {
	ids, err := d.whitelist.List()
	if err != nil {
		return nil, fmt.Errorf("failed to read whitelist: %w", err)
	}

	apps := make([]domain.AppRecord, 0, len(ids))
	for _, id := range ids {
		info, err := d.src.Catalog.AppInfo(ctx, id)
		if errors.Is(err, domain.ErrPackageNotFound) {
			if rmErr := d.whitelist.Remove(id); rmErr != nil {
				d.logger.Warn("failed to purge vanished package",
					zap.String("package", id),
					zap.Error(rmErr))
			} else {
				d.logger.Info("purged vanished package from whitelist", zap.String("package", id))
			}
			continue
		}
		if err != nil {
			d.logger.Warn("failed to resolve whitelisted package",
				zap.String("package", id),
				zap.Error(err))
			continue
		}
		apps = append(apps, domain.AppRecord{
			PackageID:       id,
			DisplayName:     displayName(info),
			IsUserInstalled: !info.IsSystem,
			IsWhitelisted:   true,
		})
	}
	return apps, nil
}
