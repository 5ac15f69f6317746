package persist

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/absfs/absfs"

	"github.com/DavidPeltz/pinvault"
	"github.com/DavidPeltz/pinvault/internal/misc"
)

// backupExt is the file extension for serialized backup envelopes.
const backupExt = ".pvb"

// FileSystemSink stores backup files on an abstract filesystem.
//
// Layout under the base path:
//
//	basePath/
//	├── backups/
//	│   ├── backup_20240101_120000.pvb
//	│   └── backup_20240102_130000.pvb
//	└── exports/
//	    └── backup_20240102_130000.pvb   # copies shared out of the app
//
// The filesystem is injected so hosts can route backups to local disk,
// an in-memory filesystem, or anything else that satisfies
// absfs.FileSystem.
type FileSystemSink struct {
	fs         absfs.FileSystem
	basePath   string
	backupsDir string
	exportDir  string
}

var _ pinvault.FileSink = (*FileSystemSink)(nil)

// NewFileSystemSink initializes the sink and creates its directories.
func NewFileSystemSink(fs absfs.FileSystem, basePath string) (*FileSystemSink, error) {
	if fs == nil {
		return nil, fmt.Errorf("filesystem cannot be nil")
	}
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	sink := &FileSystemSink{
		fs:         fs,
		basePath:   basePath,
		backupsDir: filepath.Join(basePath, "backups"),
		exportDir:  filepath.Join(basePath, "exports"),
	}

	for _, dir := range []string{sink.basePath, sink.backupsDir, sink.exportDir} {
		if err := fs.MkdirAll(dir, misc.DirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return sink, nil
}

// Write stores data as a new timestamped backup file and returns its path.
func (s *FileSystemSink) Write(data []byte) (string, error) {
	name := fmt.Sprintf("backup_%s%s", time.Now().UTC().Format("20060102_150405"), backupExt)
	path := filepath.Join(s.backupsDir, name)

	// Two backups in the same second get distinct names.
	for n := 1; ; n++ {
		if _, err := s.fs.Stat(path); err != nil {
			break
		}
		path = filepath.Join(s.backupsDir,
			fmt.Sprintf("backup_%s_%d%s", time.Now().UTC().Format("20060102_150405"), n, backupExt))
	}

	if err := s.writeFile(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// Read returns the contents of the backup file at path.
func (s *FileSystemSink) Read(path string) ([]byte, error) {
	file, err := s.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup file: %w", err)
	}
	return data, nil
}

// Share copies the backup at path into the exports directory, where the
// host application hands it off (mail attachment, cloud drive, cable).
// Returns the export location.
func (s *FileSystemSink) Share(path string) (string, error) {
	data, err := s.Read(path)
	if err != nil {
		return "", err
	}

	target := filepath.Join(s.exportDir, filepath.Base(path))
	if err := s.writeFile(target, data); err != nil {
		return "", err
	}
	return target, nil
}

// Pick returns the newest backup file. With no user interface of its
// own, this sink treats an empty backups directory the way a dismissed
// file picker would be treated: the operation is cancelled.
func (s *FileSystemSink) Pick() (string, error) {
	dir, err := s.fs.Open(s.backupsDir)
	if err != nil {
		return "", fmt.Errorf("failed to open backups directory: %w", err)
	}
	defer dir.Close()

	infos, err := dir.Readdir(-1)
	if err != nil {
		return "", fmt.Errorf("failed to list backups: %w", err)
	}

	var backups []os.FileInfo
	for _, info := range infos {
		if !info.IsDir() && strings.HasSuffix(info.Name(), backupExt) {
			backups = append(backups, info)
		}
	}
	if len(backups) == 0 {
		return "", pinvault.ErrCancelled
	}

	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].ModTime().Equal(backups[j].ModTime()) {
			return backups[i].ModTime().After(backups[j].ModTime())
		}
		// Timestamped names sort the same way as modification times.
		return backups[i].Name() > backups[j].Name()
	})

	return filepath.Join(s.backupsDir, backups[0].Name()), nil
}

// List returns the paths of all stored backups, newest first.
func (s *FileSystemSink) List() ([]string, error) {
	dir, err := s.fs.Open(s.backupsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open backups directory: %w", err)
	}
	defer dir.Close()

	infos, err := dir.Readdir(-1)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	var names []string
	for _, info := range infos {
		if !info.IsDir() && strings.HasSuffix(info.Name(), backupExt) {
			names = append(names, info.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(s.backupsDir, name)
	}
	return paths, nil
}

// Delete removes the backup file at path.
func (s *FileSystemSink) Delete(path string) error {
	if err := s.fs.Remove(path); err != nil {
		return fmt.Errorf("failed to delete backup file: %w", err)
	}
	return nil
}

func (s *FileSystemSink) writeFile(path string, data []byte) error {
	file, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, misc.FilePermissions)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}

	if _, err = file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("failed to write backup file: %w", err)
	}
	return file.Close()
}
