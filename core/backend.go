package core

import (
	"fmt"

	"iecdrive/config"
	"iecdrive/protocols"
)

// NewFileSystem connects the backend described by cfg.
func NewFileSystem(cfg config.Backend) (protocols.FileSystem, error) {
	switch cfg.Type {
	case "local":
		fs := &protocols.LocalFileSystem{RootPath: cfg.Path}
		return fs, fs.Init()
	case "sftp":
		if cfg.Auth == nil {
			return nil, fmt.Errorf("auth required for sftp")
		}
		fs := &protocols.SFTPFileSystem{
			Host:     cfg.Auth.Host,
			Port:     portOr(cfg.Auth.Port, 22),
			User:     cfg.Auth.User,
			Password: cfg.Auth.Password,
			RootPath: cfg.Path,
		}
		return fs, fs.Init()
	case "ftp":
		if cfg.Auth == nil {
			return nil, fmt.Errorf("auth required for ftp")
		}
		fs := &protocols.FTPFileSystem{
			Host:     cfg.Auth.Host,
			Port:     portOr(cfg.Auth.Port, 21),
			User:     cfg.Auth.User,
			Password: cfg.Auth.Password,
			RootPath: cfg.Path,
		}
		return fs, fs.Init()
	default:
		return nil, fmt.Errorf("unknown fs type: %s", cfg.Type)
	}
}

func portOr(port, def int) int {
	if port == 0 {
		return def
	}
	return port
}
