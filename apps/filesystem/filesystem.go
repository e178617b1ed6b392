// Package filesystem stores assets in a directory on the local disk.
package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"

	"github.com/goliatone/go-apps/core"
)

const (
	Name = "file-system"

	requestSaveSetting = "save"

	keyConnected       = "fileSystem.statusText.successfully_connected"
	keyInvalidSettings = "fileSystem.statusText.invalid_settings"
	keyInvalidFilename = "fileSystem.statusText.invalid_filename"
	keyFileNotFound    = "fileSystem.statusText.file_not_found"
	keyRequestFailed   = "fileSystem.statusText.error_processing_request"
	keyStorageFailed   = "fileSystem.statusText.error_accessing_storage"

	dirMode  fs.FileMode = 0o755
	fileMode fs.FileMode = 0o644
)

var ErrInvalidFilename = errors.New("filesystem: invalid filename")

// Settings restricts every installation to a directory under BaseDir.
type Settings struct {
	BaseDir string
}

type AppData struct {
	Folder string `json:"folder"`
}

type App struct {
	props    core.Props
	settings Settings
}

var (
	_ core.RequestProcessor = (*App)(nil)
	_ core.AssetsStorage    = (*App)(nil)
)

func New(settings Settings) core.AppFactory {
	return func(props core.Props) core.App {
		return &App{props: props, settings: settings}
	}
}

func (a *App) Name() string {
	return Name
}

func (a *App) boundary(app core.ConnectedAppData, operation string) core.Boundary {
	return core.Boundary{
		Props:       a.props,
		App:         app,
		Operation:   Name + "." + operation,
		FallbackKey: keyStorageFailed,
		SuccessKey:  keyConnected,
	}
}

func (a *App) ProcessRequest(ctx context.Context, app core.ConnectedAppData, payload json.RawMessage) (any, error) {
	req, err := core.DecodeRequest(payload)
	if err != nil {
		return nil, err
	}
	switch req.Type {
	case "", requestSaveSetting:
		var input AppData
		if err := req.DecodeData(payload, &input); err != nil {
			return nil, err
		}
		b := a.boundary(app, "save")
		b.FallbackKey = keyRequestFailed
		return core.Guard(ctx, b, func(ctx context.Context) (core.StatusWithText, error) {
			root, err := a.rootFor(input)
			if err != nil {
				return core.StatusWithText{}, err
			}
			if err := os.MkdirAll(root, dirMode); err != nil {
				return core.StatusWithText{}, core.NewAppError(core.ErrorKindConfig, keyInvalidSettings, map[string]any{"field": "folder"}, err)
			}
			status := core.ConnectedStatus(keyConnected, nil)
			update, err := core.StatusUpdate(status).WithData(input)
			if err != nil {
				return core.StatusWithText{}, err
			}
			if a.props.Update != nil {
				if err := a.props.Update(ctx, update); err != nil {
					return core.StatusWithText{}, err
				}
			}
			return status, nil
		})
	default:
		return nil, core.UnknownRequestError(Name, req.Type)
	}
}

func (a *App) rootFor(data AppData) (string, error) {
	base := strings.TrimSpace(a.settings.BaseDir)
	if base == "" {
		return "", core.NewAppError(core.ErrorKindConfig, keyInvalidSettings, nil, fmt.Errorf("filesystem: base dir is not configured"))
	}
	base, err := filepath.Abs(base)
	if err != nil {
		return "", core.NewAppError(core.ErrorKindConfig, keyInvalidSettings, nil, err)
	}
	root, err := within(base, data.Folder)
	if err != nil {
		return "", core.NewAppError(core.ErrorKindConfig, keyInvalidSettings, map[string]any{"field": "folder"}, err)
	}
	return root, nil
}

func (a *App) root(app core.ConnectedAppData) (string, error) {
	var data AppData
	if err := app.DecodeData(&data); err != nil && !errors.Is(err, core.ErrAppDataEmpty) {
		return "", core.NewAppError(core.ErrorKindConfig, keyInvalidSettings, nil, err)
	}
	return a.rootFor(data)
}

// within joins name under root and rejects results that escape it.
func within(root, name string) (string, error) {
	name = filepath.FromSlash(strings.TrimSpace(name))
	if filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	joined := filepath.Join(root, name)
	rel, err := filepath.Rel(root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return joined, nil
}

func (a *App) path(app core.ConnectedAppData, filename string) (string, error) {
	root, err := a.root(app)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(filename) == "" {
		return "", core.ConfigError(keyInvalidFilename, map[string]any{"filename": filename})
	}
	full, err := within(root, filename)
	if err != nil || full == root {
		return "", core.NewAppError(core.ErrorKindConfig, keyInvalidFilename, map[string]any{"filename": filename}, err)
	}
	return full, nil
}

func (a *App) GetFile(ctx context.Context, app core.ConnectedAppData, filename string) (io.ReadCloser, error) {
	b := a.boundary(app, "get_file")
	b.SoftNotFound = true
	return core.Guard(ctx, b, func(ctx context.Context) (io.ReadCloser, error) {
		full, err := a.path(app, filename)
		if err != nil {
			return nil, err
		}
		file, err := os.Open(full)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, core.NotFoundError(keyFileNotFound, map[string]any{"filename": filename})
		}
		return file, err
	})
}

// SaveFile writes to a temporary sibling and renames it into place so
// readers never observe a partial file.
func (a *App) SaveFile(ctx context.Context, app core.ConnectedAppData, filename string, content io.Reader) error {
	return core.GuardErr(ctx, a.boundary(app, "save_file"), func(ctx context.Context) error {
		full, err := a.path(app, filename)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(full), dirMode); err != nil {
			return err
		}
		tmp, err := os.CreateTemp(filepath.Dir(full), "."+filepath.Base(full)+".*")
		if err != nil {
			return err
		}
		defer os.Remove(tmp.Name())
		if _, err := io.Copy(tmp, content); err != nil {
			_ = tmp.Close()
			return err
		}
		if err := tmp.Chmod(fileMode); err != nil {
			_ = tmp.Close()
			return err
		}
		if err := tmp.Close(); err != nil {
			return err
		}
		return os.Rename(tmp.Name(), full)
	})
}

func (a *App) DeleteFile(ctx context.Context, app core.ConnectedAppData, filename string) error {
	return core.GuardErr(ctx, a.boundary(app, "delete_file"), func(ctx context.Context) error {
		return a.remove(app, filename)
	})
}

// DeleteFiles removes every file and reports all failures together.
func (a *App) DeleteFiles(ctx context.Context, app core.ConnectedAppData, filenames []string) error {
	return core.GuardErr(ctx, a.boundary(app, "delete_files"), func(ctx context.Context) error {
		var combined error
		for _, filename := range filenames {
			combined = multierr.Append(combined, a.remove(app, filename))
		}
		return combined
	})
}

func (a *App) remove(app core.ConnectedAppData, filename string) error {
	full, err := a.path(app, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (a *App) CheckExists(ctx context.Context, app core.ConnectedAppData, filename string) (bool, error) {
	return core.Guard(ctx, a.boundary(app, "check_exists"), func(ctx context.Context) (bool, error) {
		full, err := a.path(app, filename)
		if err != nil {
			return false, err
		}
		info, err := os.Stat(full)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return !info.IsDir(), nil
	})
}
