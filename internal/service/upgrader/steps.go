package upgrader

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/1panel-offline/internal/fileutil"
	"github.com/oshokin/1panel-offline/internal/logger"
	"github.com/oshokin/1panel-offline/internal/repository/panelconf"

	// Ensure SHA256 is available for go-update checksums.
	_ "crypto/sha256"
)

const (
	binaryMode     os.FileMode = 0o755
	verifyInterval             = 500 * time.Millisecond
)

// backup copies binaries, 1pctl and lang into the backup directory.
func (u *upgrader) backup() error {
	dir := u.result.BackupDir
	if err := os.MkdirAll(dir, fileutil.DirMode); err != nil {
		return err
	}

	for _, name := range append(Binaries(), CtlScript) {
		src := filepath.Join(u.host.BinDir, name)
		if !isFile(src) {
			continue
		}

		info, err := os.Stat(src)
		if err != nil {
			return err
		}

		if err = fileutil.CopyFile(src, filepath.Join(dir, name), info.Mode().Perm()); err != nil {
			return err
		}

		u.backedUp = append(u.backedUp, name)
	}

	if lang := filepath.Join(u.host.BinDir, LangDir); isDir(lang) {
		if err := fileutil.CopyTree(lang, filepath.Join(dir, LangDir)); err != nil {
			return err
		}

		u.backedUp = append(u.backedUp, LangDir)
	}

	return nil
}

func (u *upgrader) stopServices(ctx context.Context) {
	services := Services()
	for i := len(services) - 1; i >= 0; i-- {
		logger.InfoKV(ctx, "Stopping service", "service", services[i])

		if err := u.services.Stop(ctx, services[i]); err != nil {
			logger.WarnKV(ctx, "Service did not stop cleanly", "service", services[i], "error", err)
		}
	}
}

// replace swaps the binaries with go-update and refreshes lang.
func (u *upgrader) replace(ctx context.Context) error {
	for _, name := range Binaries() {
		logger.InfoKV(ctx, "Replacing binary", "file", name)

		if err := applyBinary(filepath.Join(u.bundleDir, name), filepath.Join(u.host.BinDir, name)); err != nil {
			return fmt.Errorf("replace %s: %w", name, err)
		}
	}

	logger.InfoKV(ctx, "Replacing language assets", "dir", LangDir)

	target := filepath.Join(u.host.BinDir, LangDir)
	if err := os.RemoveAll(target); err != nil {
		return err
	}

	if err := fileutil.CopyTree(filepath.Join(u.bundleDir, LangDir), target); err != nil {
		return fmt.Errorf("replace %s: %w", LangDir, err)
	}

	return nil
}

func applyBinary(src, dst string) error {
	checksum, err := fileChecksum(src)
	if err != nil {
		return err
	}

	file, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}

	defer func() {
		_ = file.Close()
	}()

	if err = os.MkdirAll(filepath.Dir(dst), fileutil.DirMode); err != nil {
		return err
	}

	if _, err = os.Stat(dst); errors.Is(err, os.ErrNotExist) {
		var placeholder *os.File

		if placeholder, err = os.Create(dst); err != nil {
			return err
		}

		_ = placeholder.Close()
	}

	options := goupdate.Options{
		TargetPath: dst,
		TargetMode: binaryMode,
		Checksum:   checksum,
		Hash:       crypto.SHA256,
	}

	if err = goupdate.Apply(file, options); err != nil {
		if rollbackErr := goupdate.RollbackError(err); rollbackErr != nil {
			return fmt.Errorf("%w: %w", err, rollbackErr)
		}

		return err
	}

	oldFile := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".old")
	_ = os.Remove(oldFile)

	return nil
}

func fileChecksum(path string) ([]byte, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = file.Close()
	}()

	hasher := crypto.SHA256.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return nil, fmt.Errorf("checksum %s: %w", path, err)
	}

	return hasher.Sum(nil), nil
}

// rewriteConfig installs the bundled 1pctl while keeping the host settings.
func (u *upgrader) rewriteConfig(ctx context.Context) error {
	fresh, err := panelconf.NewFileRepository(filepath.Join(u.bundleDir, CtlScript)).Load(ctx)
	if err != nil {
		return err
	}

	carried := fresh.Carry(u.installed, panelconf.PreservedKeys()...)
	fresh.Set(panelconf.KeyVersion, u.result.Version)

	if err = u.ctl.Save(ctx, fresh); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Rewrote 1pctl", "preserved", carried, "version", u.result.Version)

	return nil
}

// migrateVersion stores the new version in every panel database.
func (u *upgrader) migrateVersion(ctx context.Context) {
	for _, db := range u.host.Databases() {
		method, err := u.migrator.SetSystemVersion(ctx, db, u.result.Version)
		if err != nil {
			u.warn(ctx, "SystemVersion not updated in "+filepath.Base(db), err)

			continue
		}

		logger.InfoKV(ctx, "SystemVersion updated", "db", db, "method", method)
	}
}

// installUnits copies service definitions for the detected init system.
func (u *upgrader) installUnits(ctx context.Context) {
	for _, unit := range Units(u.host, u.result.InitSystem) {
		src := BundledUnit(u.bundleDir, u.result.InitSystem, unit.Name)
		if !isFile(src) {
			u.warn(ctx, "Service definition not found in bundle", fmt.Errorf("%s: %w", unit.Name, os.ErrNotExist))

			continue
		}

		if err := fileutil.CopyFile(src, filepath.Join(unit.Dir, unit.Name), os.FileMode(unit.Mode)); err != nil {
			u.warn(ctx, "Service definition not installed", err)

			continue
		}

		logger.InfoKV(ctx, "Installed service definition", "file", filepath.Join(unit.Dir, unit.Name))
	}

	if err := u.services.Reload(ctx); err != nil {
		u.warn(ctx, "Service manager reload failed", err)
	}

	for _, service := range Services() {
		if err := u.services.Enable(ctx, service); err != nil {
			u.warn(ctx, "Service not enabled", err)
		}
	}
}

func (u *upgrader) startServices(ctx context.Context) {
	for _, service := range Services() {
		logger.InfoKV(ctx, "Starting service", "service", service)

		if err := u.services.Start(ctx, service); err != nil {
			u.warn(ctx, "Service did not start", err)
		}
	}
}

// verify waits for the core process to appear in the process table.
func (u *upgrader) verify(ctx context.Context) {
	deadline := time.Now().Add(u.opts.VerifyTimeout)

	for {
		running, err := isRunning(u.processes, CoreBinary)
		if err != nil {
			u.warn(ctx, "Process table not readable", err)

			return
		}

		if running {
			logger.InfoKV(ctx, "Service is running", "process", CoreBinary)

			return
		}

		if !time.Now().Before(deadline) {
			u.warn(ctx, "Service is not running after upgrade", fmt.Errorf("%s not found in process table", CoreBinary))

			return
		}

		select {
		case <-ctx.Done():
			u.warn(ctx, "Verification interrupted", ctx.Err())

			return
		case <-time.After(verifyInterval):
		}
	}
}

// rollback restores the backup, restarts services and returns ErrRolledBack.
func (u *upgrader) rollback(ctx context.Context, step Step, cause error) error {
	logger.ErrorKV(ctx, "Upgrade step failed, rolling back", "step", step, "error", cause)

	var errs []error

	for _, name := range u.backedUp {
		src := filepath.Join(u.result.BackupDir, name)
		dst := filepath.Join(u.host.BinDir, name)

		if name == LangDir {
			if err := os.RemoveAll(dst); err != nil {
				errs = append(errs, err)

				continue
			}

			if err := fileutil.CopyTree(src, dst); err != nil {
				errs = append(errs, err)
			}

			continue
		}

		info, err := os.Stat(src)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		if err = fileutil.CopyFile(src, dst, info.Mode().Perm()); err != nil {
			errs = append(errs, err)
		}
	}

	u.startServices(ctx)

	if len(errs) > 0 {
		return fmt.Errorf("%s: %w: %w: %w", step, ErrRolledBack, cause,
			fmt.Errorf("%w: %w", errRollbackFailed, errors.Join(errs...)))
	}

	logger.InfoKV(ctx, "Previous installation restored", "backup", u.result.BackupDir)

	return fmt.Errorf("%s: %w: %w", step, ErrRolledBack, cause)
}
